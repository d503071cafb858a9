package util

import (
	"encoding/json"
	"fmt"
)

// EncoderDecoder turns stored documents into model values and back.
type EncoderDecoder[T any] interface {
	Encode(value T) ([]byte, error)
	Decode(data []byte) (*T, error)
}

type jsonEncDec[T any] struct{}

var _ EncoderDecoder[any] = new(jsonEncDec[any])

func NewJsonEncoderDecoder[T any]() EncoderDecoder[T] {
	return &jsonEncDec[T]{}
}

func (encdec *jsonEncDec[T]) Encode(value T) ([]byte, error) {
	res, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("encode %T: %w", value, err)
	}
	return res, nil
}

func (encdec *jsonEncDec[T]) Decode(data []byte) (*T, error) {
	var res T
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("decode %T: %w", res, err)
	}
	return &res, nil
}

// DecodeAll decodes every document, stopping at the first bad one.
func DecodeAll[T any](encDec EncoderDecoder[T], docs [][]byte) ([]*T, error) {
	out := make([]*T, 0, len(docs))
	for _, doc := range docs {
		v, err := encDec.Decode(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}
