package graph

import (
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// Fingerprint returns a hash of the current order. Two containers built from
// the same mutation sequence have the same fingerprint, which makes it a cheap
// check that a replayed registration reproduced the original order.
//
// Keys are hashed through their %v form.
func (c *Container[K, C]) Fingerprint() (string, error) {
	order, err := c.Ordered()
	if err != nil {
		return "", err
	}

	d := xxhash.New()
	for _, n := range order {
		// Separator keeps ["ab"] and ["a", "b"] apart
		fmt.Fprintf(d, "%v\x00", n.key)
	}
	return fmt.Sprintf("%x", d.Sum64()), nil
}

// HasChanged returns true if the order no longer matches a previous fingerprint
func (c *Container[K, C]) HasChanged(previous string) (bool, error) {
	if previous == "" {
		return true, nil
	}
	current, err := c.Fingerprint()
	if err != nil {
		return false, err
	}
	return current != previous, nil
}
