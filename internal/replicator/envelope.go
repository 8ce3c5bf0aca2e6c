package replicator

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Envelope is the CBOR payload carried over one SDTL channel message:
// a bus key, a field within that key, and an opaque value. Grounded
// on pkg/service/helpers.go's writeUARTMessage, which CBOR-encodes a
// nested map[messageType]map[subType]value; generalized here from the
// BLE service's fixed two-level numeric-key scheme to a
// string-keyed {Key, Field, Value} triple, since a replication bridge
// has no fixed catalogue of message types the way the BLE UART
// protocol does.
type Envelope struct {
	Key   string      `cbor:"k"`
	Field string      `cbor:"f"`
	Value interface{} `cbor:"v"`
}

// Encode CBOR-marshals the envelope, mirroring writeUARTMessage's
// cbor.Marshal call.
func (e Envelope) Encode() ([]byte, error) {
	data, err := cbor.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("replicator: marshal envelope: %w", err)
	}
	return data, nil
}

// DecodeEnvelope CBOR-unmarshals a payload produced by Encode.
func DecodeEnvelope(data []byte) (Envelope, error) {
	var e Envelope
	if err := cbor.Unmarshal(data, &e); err != nil {
		return Envelope{}, fmt.Errorf("replicator: unmarshal envelope: %w", err)
	}
	return e, nil
}
