package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"reflect"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/russross/meddler"
)

// init registers tags to be used to read/write from SQL DBs using meddler
func init() {
	meddler.Default = meddler.SQLite
	meddler.Register("bigint", BigIntMeddler{})
	meddler.Register("hash", HashMeddler{})
	meddler.Register("utctime", UTCTimeMeddler{})
	meddler.Register("json", JSONMeddler{})
}

// SlicePtrsToSlice converts any []*Foo to []Foo
func SlicePtrsToSlice(slice interface{}) interface{} {
	v := reflect.ValueOf(slice)
	vLen := v.Len()
	typ := v.Type().Elem().Elem()
	res := reflect.MakeSlice(reflect.SliceOf(typ), vLen, vLen)
	for i := 0; i < vLen; i++ {
		res.Index(i).Set(v.Index(i).Elem())
	}
	return res.Interface()
}

// BigIntMeddler encodes or decodes the field value to or from string
type BigIntMeddler struct{}

// PreRead is called before a Scan operation for fields that have the BigIntMeddler
func (b BigIntMeddler) PreRead(fieldAddr interface{}) (scanTarget interface{}, err error) {
	// give a pointer to a byte buffer to grab the raw data
	return new(string), nil
}

// PostRead is called after a Scan operation for fields that have the BigIntMeddler
func (b BigIntMeddler) PostRead(fieldPtr, scanTarget interface{}) error {
	ptr, ok := scanTarget.(*string)
	if !ok {
		return errors.New("scanTarget is not *string")
	}
	if ptr == nil {
		return fmt.Errorf("BigIntMeddler.PostRead: nil pointer")
	}
	field, ok := fieldPtr.(**big.Int)
	if !ok {
		return errors.New("fieldPtr is not *big.Int")
	}
	decimal := 10
	*field, ok = new(big.Int).SetString(*ptr, decimal)
	if !ok {
		return fmt.Errorf("big.Int.SetString failed on \"%v\"", *ptr)
	}
	return nil
}

// PreWrite is called before an Insert or Update operation for fields that have the BigIntMeddler
func (b BigIntMeddler) PreWrite(fieldPtr interface{}) (saveValue interface{}, err error) {
	field, ok := fieldPtr.(*big.Int)
	if !ok {
		return nil, errors.New("fieldPtr is not *big.Int")
	}

	return field.String(), nil
}

// HashMeddler encodes or decodes the field value to or from string
type HashMeddler struct{}

// PreRead is called before a Scan operation for fields that have the HashMeddler
func (b HashMeddler) PreRead(fieldAddr interface{}) (scanTarget interface{}, err error) {
	// give a pointer to a byte buffer to grab the raw data
	return new(string), nil
}

// PostRead is called after a Scan operation for fields that have the HashMeddler
func (b HashMeddler) PostRead(fieldPtr, scanTarget interface{}) error {
	ptr, ok := scanTarget.(*string)
	if !ok {
		return errors.New("scanTarget is not *string")
	}
	if ptr == nil {
		return fmt.Errorf("HashMeddler.PostRead: nil pointer")
	}
	field, ok := fieldPtr.(*common.Hash)
	if !ok {
		return errors.New("fieldPtr is not common.Hash")
	}
	*field = common.HexToHash(*ptr)
	return nil
}

// PreWrite is called before an Insert or Update operation for fields that have the HashMeddler
func (b HashMeddler) PreWrite(fieldPtr interface{}) (saveValue interface{}, err error) {
	field, ok := fieldPtr.(common.Hash)
	if !ok {
		return nil, errors.New("fieldPtr is not common.Hash")
	}
	return field.Hex(), nil
}

// UTCTimeMeddler encodes or decodes a time.Time to or from an RFC3339 string in UTC
type UTCTimeMeddler struct{}

// PreRead is called before a Scan operation for fields that have the UTCTimeMeddler
func (t UTCTimeMeddler) PreRead(fieldAddr interface{}) (scanTarget interface{}, err error) {
	return new(string), nil
}

// PostRead is called after a Scan operation for fields that have the UTCTimeMeddler
func (t UTCTimeMeddler) PostRead(fieldPtr, scanTarget interface{}) error {
	ptr, ok := scanTarget.(*string)
	if !ok {
		return errors.New("scanTarget is not *string")
	}
	field, ok := fieldPtr.(*time.Time)
	if !ok {
		return errors.New("fieldPtr is not *time.Time")
	}
	parsed, err := time.Parse(time.RFC3339Nano, *ptr)
	if err != nil {
		return fmt.Errorf("UTCTimeMeddler.PostRead: %w", err)
	}
	*field = parsed
	return nil
}

// PreWrite is called before an Insert or Update operation for fields that have the UTCTimeMeddler
func (t UTCTimeMeddler) PreWrite(fieldPtr interface{}) (saveValue interface{}, err error) {
	field, ok := fieldPtr.(time.Time)
	if !ok {
		return nil, errors.New("fieldPtr is not time.Time")
	}
	return field.UTC().Format(time.RFC3339Nano), nil
}

// JSONMeddler encodes or decodes any field value to or from a JSON string.
// NULL columns map to the field's zero value.
type JSONMeddler struct{}

// PreRead is called before a Scan operation for fields that have the JSONMeddler
func (j JSONMeddler) PreRead(fieldAddr interface{}) (scanTarget interface{}, err error) {
	return new(sql.NullString), nil
}

// PostRead is called after a Scan operation for fields that have the JSONMeddler
func (j JSONMeddler) PostRead(fieldPtr, scanTarget interface{}) error {
	ptr, ok := scanTarget.(*sql.NullString)
	if !ok {
		return errors.New("scanTarget is not *sql.NullString")
	}
	if !ptr.Valid {
		// NULL: leave the field at its zero value
		return nil
	}
	return json.Unmarshal([]byte(ptr.String), fieldPtr)
}

// PreWrite is called before an Insert or Update operation for fields that have the JSONMeddler
func (j JSONMeddler) PreWrite(fieldPtr interface{}) (saveValue interface{}, err error) {
	v := reflect.ValueOf(fieldPtr)
	if v.Kind() == reflect.Ptr && v.IsNil() {
		return nil, nil
	}
	data, err := json.Marshal(fieldPtr)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}
