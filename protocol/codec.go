package protocol

import (
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// The wire schema is fixed-field structs with integer keys, encoded with
// deterministic CBOR. Same logical message always produces identical bytes.
// Unknown fields are ignored on decode for forward compatibility.

var encMode cbor.EncMode
var decMode cbor.DecMode

func init() {
	var err error

	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}

	decMode, err = cbor.DecOptions{
		// opaque payload fields decode into map[string]any, never
		// map[any]any, so they stay compatible with encoding/json
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic(err)
	}
}

func Marshal(message any) ([]byte, error) {
	return encMode.Marshal(message)
}

func Unmarshal(b []byte, message any) error {
	return decMode.Unmarshal(b, message)
}
