package common

import "github.com/pkg/errors"

type WalRecordType uint8

const (
	WalRecordCreateTable WalRecordType = iota + 1
	WalRecordDropTable
	WalRecordCommit
)

func (t WalRecordType) String() string {
	switch t {
	case WalRecordCreateTable:
		return "CREATE_TABLE"
	case WalRecordDropTable:
		return "DROP_TABLE"
	case WalRecordCommit:
		return "COMMIT"
	default:
		return "UNKNOWN"
	}
}

// WalRecord is one entry of the commit log. Table records carry the table
// identity; commit records carry the version and the applied mutations.
type WalRecord struct {
	Type            WalRecordType
	Version         uint64
	TableID         uint32
	TableName       string
	PartitionMethod string
	Mutations       []Mutation
}

func (wr *WalRecord) MarshalBinary() ([]byte, error) {
	bb := NewBinaryBuffer(32)

	bb.WriteUint8(uint8(wr.Type)).WriteUint64(wr.Version).WriteUint32(wr.TableID).
		WriteString(wr.TableName).WriteString(wr.PartitionMethod).WriteUint32(uint32(len(wr.Mutations)))

	for _, m := range wr.Mutations {
		bb.WriteUint32(m.TableID).WriteBytes(m.Key).WriteBool(m.Delete).WriteBytes(m.Value)
	}

	return bb.GetBuffer(), nil
}

func (wr *WalRecord) UnmarshalBinary(data []byte) error {
	bb := NewBinaryBufferFrom(&data, 0)

	var recordType uint8
	var count uint32
	bb.ReadUint8(&recordType).ReadUint64(&wr.Version).ReadUint32(&wr.TableID).
		ReadString(&wr.TableName).ReadString(&wr.PartitionMethod).ReadUint32(&count)
	if bb.Err() != nil {
		return errors.Wrap(bb.Err(), "wal record header")
	}
	wr.Type = WalRecordType(recordType)
	if wr.Type < WalRecordCreateTable || wr.Type > WalRecordCommit {
		return errors.Errorf("unknown wal record type %d", recordType)
	}

	wr.Mutations = make([]Mutation, 0, min(int(count), bb.Remaining()))
	for i := uint32(0); i < count; i++ {
		var m Mutation
		var key, value []byte
		bb.ReadUint32(&m.TableID).ReadBytes(&key).ReadBool(&m.Delete).ReadBytes(&value)
		if bb.Err() != nil {
			return errors.Wrapf(bb.Err(), "wal record mutation %d", i)
		}
		m.Key, m.Value = key, value
		wr.Mutations = append(wr.Mutations, m)
	}

	return nil
}
