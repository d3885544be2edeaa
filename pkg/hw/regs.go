package hw

import "encoding/binary"

// DefaultCommandDevice is the user BAR exposing the filter registers.
const DefaultCommandDevice = "/dev/xdma0_user"

// Reg is a 32-bit register index. Its byte offset is Reg*4.
type Reg int

// Register map of the filter core
const (
	REG_MAGIC   Reg = 0x00
	REG_CONTROL Reg = 0x01
	REG_STATUS  Reg = 0x02
	REG_K       Reg = 0x03
	REG_L       Reg = 0x04
	REG_M       Reg = 0x05
	REG_PTHRESH Reg = 0x06
	REG_DTIME   Reg = 0x07

	NUM_REGS = 8
)

// MAGIC_VALUE identifies the filter gateware ("MBFI").
const MAGIC_VALUE = 0x4946424D

// CONTROL bits
const (
	CTRL_RUN        = 1 << 0
	CTRL_LOAD       = 1 << 1
	CTRL_FIFO_RESET = 1 << 2
)

// STATUS bits
const (
	STATUS_STATE_MASK     = 0x3
	STATUS_LOAD_ACK       = 1 << 8
	STATUS_PARAMS_INVALID = 1 << 9
)

// STATUS state codes, in the same order as filter.State
const (
	STATE_UNCONFIGURED = 0
	STATE_INVALID      = 1
	STATE_READY        = 2
	STATE_RUNNING      = 3
)

// RecordSize is the size of one peak record on the data stream.
const RecordSize = 12

// Record is one detected peak: a 48-bit timestamp in filter clock cycles,
// the input channel and the peak height.
type Record struct {
	Timestamp uint64
	Channel   uint16
	Height    uint32
}

// DecodeRecord decodes a little-endian record from b, which must hold at
// least RecordSize bytes.
func DecodeRecord(b []byte) Record {
	_ = b[RecordSize-1]
	ts := uint64(binary.LittleEndian.Uint32(b[0:4])) | uint64(binary.LittleEndian.Uint16(b[4:6]))<<32
	return Record{
		Timestamp: ts,
		Channel:   binary.LittleEndian.Uint16(b[6:8]),
		Height:    binary.LittleEndian.Uint32(b[8:12]),
	}
}

// Put encodes r into b, which must hold at least RecordSize bytes. The
// timestamp is truncated to 48 bits.
func (r Record) Put(b []byte) {
	_ = b[RecordSize-1]
	binary.LittleEndian.PutUint32(b[0:4], uint32(r.Timestamp))
	binary.LittleEndian.PutUint16(b[4:6], uint16(r.Timestamp>>32))
	binary.LittleEndian.PutUint16(b[6:8], r.Channel)
	binary.LittleEndian.PutUint32(b[8:12], r.Height)
}
