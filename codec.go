package datacore

import (
	"bytes"

	msgpack "github.com/vmihailenco/msgpack/v4"

	"github.com/prashanthpai/datacore/cache"
)

func encode(v interface{}) ([]byte, error) {
	return msgpack.Marshal(v)
}

// decode unmarshals b into v. Integers held in interface{} fields come back
// as int64 and floats as float64, as database/sql drivers produce them.
func decode(b []byte, v interface{}) error {
	dec := msgpack.NewDecoder(bytes.NewReader(b))
	dec.UseDecodeInterfaceLoose(true)
	return dec.Decode(v)
}

func decodeItem(b []byte) (*cache.Item, error) {
	var item cache.Item
	if err := decode(b, &item); err != nil {
		return nil, err
	}
	return &item, nil
}
