package pca9555

// Bus is the register-level transport the driver consumes.
// Implementations must return their errors unchanged; the driver never
// inspects or wraps them.
type Bus interface {
	// WriteRegister writes one byte to register reg of the device at addr.
	WriteRegister(addr, reg uint8, value byte) error

	// ReadRegister reads one byte from register reg of the device at addr.
	ReadRegister(addr, reg uint8) (byte, error)

	// UpdateRegister reads register reg, computes (current &^ clear) | set
	// and writes the result back. It may take two bus transactions.
	UpdateRegister(addr, reg uint8, set, clear byte) error
}
