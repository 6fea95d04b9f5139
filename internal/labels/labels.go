// Package labels maps the classifier's output index to a product category.
package labels

import (
	"errors"
	"fmt"
	"strconv"
)

// NumClasses is the size of the model's output layer.
const NumClasses = 42

// ErrUnknownClass is returned for an index or key outside the table.
var ErrUnknownClass = errors.New("unknown class")

// Class is a predicted class index.
type Class int

var names = [NumClasses]string{
	"long-dress",
	"dress",
	"shirt",
	"sweater",
	"jeans",
	"ring",
	"earring",
	"hat",
	"clutch",
	"carry-bag",
	"cellphone-cover",
	"cellphone",
	"clock",
	"feeding-bottle",
	"rice cooker",
	"coofee powder",
	"women shoes",
	"high-heels",
	"air-conditioner/remote",
	"flashdrive",
	"chair",
	"racket",
	"biking helmet",
	"gloves",
	"watch",
	"belt",
	"airphone",
	"vehicle toys",
	"jacket",
	"trousers",
	"sneakers",
	"snacks",
	"mask",
	"desinfectant",
	"skin-care product",
	"perfume",
	"home utilities",
	"laptop",
	"eating container",
	"vase",
	"shower/bidet head",
	"sofa",
}

// Valid reports whether c is inside the table.
func (c Class) Valid() bool {
	return c >= 0 && c < NumClasses
}

// Key is the zero-padded two digit key, "00" through "41".
func (c Class) Key() string {
	return fmt.Sprintf("%02d", int(c))
}

// Name is the category label, empty for an invalid class.
func (c Class) Name() string {
	if !c.Valid() {
		return ""
	}
	return names[c]
}

func (c Class) String() string {
	return c.Key() + ":" + c.Name()
}

// FromIndex converts a model output index.
func FromIndex(i int) (Class, error) {
	c := Class(i)
	if !c.Valid() {
		return 0, fmt.Errorf("index %d: %w", i, ErrUnknownClass)
	}
	return c, nil
}

// Parse converts a two digit key.
func Parse(key string) (Class, error) {
	if len(key) != 2 || !isDigit(key[0]) || !isDigit(key[1]) {
		return 0, fmt.Errorf("key %q: %w", key, ErrUnknownClass)
	}
	n, err := strconv.Atoi(key)
	if err != nil {
		return 0, fmt.Errorf("key %q: %w", key, ErrUnknownClass)
	}
	return FromIndex(n)
}

func isDigit(b byte) bool {
	return b >= '0' && b <= '9'
}

// Lookup resolves a two digit key to its label.
func Lookup(key string) (string, error) {
	c, err := Parse(key)
	if err != nil {
		return "", err
	}
	return c.Name(), nil
}

// All returns a copy of the table keyed the way clients see it.
func All() map[string]string {
	m := make(map[string]string, NumClasses)
	for i := range names {
		c := Class(i)
		m[c.Key()] = c.Name()
	}
	return m
}

// Validate checks the table is complete: every key from 00 to 41 resolves
// to a distinct non-empty label.
func Validate() error {
	return validate(names[:])
}

func validate(table []string) error {
	if len(table) != NumClasses {
		return fmt.Errorf("label table has %d entries, want %d", len(table), NumClasses)
	}
	seen := make(map[string]string, len(table))
	for i, name := range table {
		key := Class(i).Key()
		if name == "" {
			return fmt.Errorf("label table: key %s has no label", key)
		}
		if prev, ok := seen[name]; ok {
			return fmt.Errorf("label table: %q used by both %s and %s", name, prev, key)
		}
		seen[name] = key
	}
	return nil
}
