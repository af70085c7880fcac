// README: Identifier value object shared by every module.
package types

import "github.com/google/uuid"

type ID string

func NewID() ID {
	return ID(uuid.NewString())
}

// ParseID reports whether v is a well-formed identifier issued by NewID.
func ParseID(v string) (ID, bool) {
	u, err := uuid.Parse(v)
	if err != nil {
		return "", false
	}
	return ID(u.String()), true
}
