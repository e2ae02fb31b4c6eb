package scservo

// Model represents a servo model specification.
type Model struct {
	Name        string
	Number      int // Model number returned by ping
	Protocol    int // ProtocolSTS or ProtocolSCS
	Resolution  int // Position resolution in steps (e.g., 4096 for 12-bit)
	MaxPosition int // Maximum position value

	// BaudRates lists supported baud rates in index order; the index is
	// what gets written to the baud_rate register.
	BaudRates []int
}

// DefaultBaudRates for most Feetech servos.
var DefaultBaudRates = []int{
	1000000, // 0
	500000,  // 1
	250000,  // 2
	128000,  // 3
	115200,  // 4
	76800,   // 5
	57600,   // 6
	38400,   // 7
}

// Predefined servo models.
var (
	ModelSTS3215 = Model{
		Name:        "sts3215",
		Number:      777,
		Protocol:    ProtocolSTS,
		Resolution:  4096,
		MaxPosition: 4095,
		BaudRates:   DefaultBaudRates,
	}

	ModelSTS3250 = Model{
		Name:        "sts3250",
		Number:      1540,
		Protocol:    ProtocolSTS,
		Resolution:  4096,
		MaxPosition: 4095,
		BaudRates:   DefaultBaudRates,
	}

	ModelSCS0009 = Model{
		Name:        "scs0009",
		Number:      9,
		Protocol:    ProtocolSCS,
		Resolution:  1024,
		MaxPosition: 1023,
		BaudRates:   DefaultBaudRates,
	}

	ModelSCS15 = Model{
		Name:        "scs15",
		Number:      15,
		Protocol:    ProtocolSCS,
		Resolution:  1024,
		MaxPosition: 1023,
		BaudRates:   DefaultBaudRates,
	}
)

// modelRegistry holds all known models indexed by name and number.
var modelRegistry = struct {
	byName   map[string]*Model
	byNumber map[int]*Model
}{
	byName:   make(map[string]*Model),
	byNumber: make(map[int]*Model),
}

func init() {
	RegisterModel(&ModelSTS3215)
	RegisterModel(&ModelSTS3250)
	RegisterModel(&ModelSCS0009)
	RegisterModel(&ModelSCS15)
}

// RegisterModel adds a model to the registry.
func RegisterModel(m *Model) {
	modelRegistry.byName[m.Name] = m
	modelRegistry.byNumber[m.Number] = m
}

// GetModel returns a model by name.
func GetModel(name string) (*Model, bool) {
	m, ok := modelRegistry.byName[name]
	return m, ok
}

// GetModelByNumber returns a model by its hardware model number.
func GetModelByNumber(number int) (*Model, bool) {
	m, ok := modelRegistry.byNumber[number]
	return m, ok
}

// ListModels returns all registered model names.
func ListModels() []string {
	names := make([]string, 0, len(modelRegistry.byName))
	for name := range modelRegistry.byName {
		names = append(names, name)
	}
	return names
}

// BaudRateIndex returns the register index for a baud rate, or -1 if the
// model does not support it.
func (m *Model) BaudRateIndex(baudRate int) int {
	for i, rate := range m.BaudRates {
		if rate == baudRate {
			return i
		}
	}
	return -1
}

// BaudRateAt returns the baud rate for a register index, or 0 if the index
// is out of range.
func (m *Model) BaudRateAt(index int) int {
	if index < 0 || index >= len(m.BaudRates) {
		return 0
	}
	return m.BaudRates[index]
}
