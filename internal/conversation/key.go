package conversation

import (
	"fmt"
	"strings"

	"github.com/fathima-sithara/chat-sync/internal/apperr"
)

const Separator = "_"

// escaper percent-encodes the separator (and the escape byte itself) inside ids, so a key
// splits back into exactly one pair of ids. Ids without either byte are left as they are.
var escaper = strings.NewReplacer("%", "%25", Separator, "%5F")

// Key identifies the partition shared by two principals.
type Key string

func (k Key) String() string { return string(k) }

// Resolve returns the canonical key for a two-party conversation. The result does not depend on
// argument order, which is what lets both participants land on the same partition.
func Resolve(idA, idB string) (Key, error) {
	if idA == "" || idB == "" {
		return "", fmt.Errorf("%w: conversation participant id is empty", apperr.ErrInvalidArgument)
	}
	if idA == idB {
		return "", fmt.Errorf("%w: conversation with oneself", apperr.ErrInvalidArgument)
	}
	if idB < idA {
		idA, idB = idB, idA
	}
	return Key(escaper.Replace(idA) + Separator + escaper.Replace(idB)), nil
}
