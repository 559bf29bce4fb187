package pca9555

import "fmt"

// tx is one byte-level bus transaction seen by mockBus. UpdateRegister is
// logged as the read and write it performs on a real bus.
type tx struct {
	Op    string
	Reg   Register
	Value byte
}

func (t tx) String() string {
	return fmt.Sprintf("%s %v 0x%02x", t.Op, t.Reg, t.Value)
}

func rd(reg Register, v byte) tx { return tx{Op: "read", Reg: reg, Value: v} }
func wr(reg Register, v byte) tx { return tx{Op: "write", Reg: reg, Value: v} }

// mockBus is an in-memory PCA9555 register file that records every
// transaction and can fail accesses to chosen registers.
type mockBus struct {
	regs [8]byte
	log  []tx
	fail map[Register]error
	addr uint8
}

func newMockBus() *mockBus {
	b := &mockBus{fail: make(map[Register]error), addr: Address}
	b.regs[OutputPort0] = 0xFF
	b.regs[OutputPort1] = 0xFF
	b.regs[Configuration0] = 0xFF
	b.regs[Configuration1] = 0xFF
	return b
}

func (b *mockBus) check(addr, reg uint8) error {
	if addr != Address {
		return fmt.Errorf("mock: unexpected address 0x%02x", addr)
	}
	if int(reg) >= len(b.regs) {
		return fmt.Errorf("mock: unexpected register 0x%02x", reg)
	}
	return b.fail[Register(reg)]
}

func (b *mockBus) WriteRegister(addr, reg uint8, value byte) error {
	if err := b.check(addr, reg); err != nil {
		return err
	}
	b.regs[reg] = value
	b.log = append(b.log, wr(Register(reg), value))
	return nil
}

func (b *mockBus) ReadRegister(addr, reg uint8) (byte, error) {
	if err := b.check(addr, reg); err != nil {
		return 0, err
	}
	v := b.regs[reg]
	b.log = append(b.log, rd(Register(reg), v))
	return v, nil
}

func (b *mockBus) UpdateRegister(addr, reg uint8, set, clear byte) error {
	cur, err := b.ReadRegister(addr, reg)
	if err != nil {
		return err
	}
	return b.WriteRegister(addr, reg, cur&^clear|set)
}

// reset clears the transaction log.
func (b *mockBus) reset() {
	b.log = nil
}
