package identity

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/kevinfeng77/imsgd/internal/contacts"
	"github.com/kevinfeng77/imsgd/internal/store"
)

// Conflict reports a handle reference that resolved to a user other than the
// one already holding it. The earlier-created user wins; the conflict is a
// diagnostic, never a failure.
type Conflict struct {
	HandleRef   int64
	HandleValue string
	KeptUserID  string
	OtherUserID string
}

func (c *Conflict) String() string {
	return fmt.Sprintf("handle %d (%s): kept user %s over %s", c.HandleRef, c.HandleValue, c.KeptUserID, c.OtherUserID)
}

// Resolution is the outcome of resolving one handle.
type Resolution struct {
	User     *store.User
	Created  bool
	Conflict *Conflict
}

// Resolver maps handles to users, creating them on first sight.
type Resolver struct {
	db  *store.DB
	dir contacts.Directory
}

// NewResolver builds a Resolver over the normalized store and a directory.
func NewResolver(db *store.DB, dir contacts.Directory) *Resolver {
	if dir == nil {
		dir = contacts.Empty{}
	}
	return &Resolver{db: db, dir: dir}
}

// Resolve maps a source handle (rowid plus raw contact value) to a user,
// creating one when no existing user matches. Lookup precedence is phone,
// then email, then handle reference; first match wins.
func (r *Resolver) Resolve(handleRef int64, handleValue string) (*Resolution, error) {
	canonical := Canonical(handleValue)

	existing, err := r.lookup(handleRef, canonical)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		res := &Resolution{User: existing}
		if handleRef != 0 && existing.HandleRef != handleRef {
			claimed, err := r.db.AttachHandleRef(existing.ID, handleRef)
			if err != nil {
				return nil, err
			}
			if claimed {
				existing.HandleRef = handleRef
			} else if other, err := r.db.UserByHandleRef(handleRef); err != nil {
				return nil, err
			} else if other != nil && other.ID != existing.ID {
				res.Conflict = &Conflict{
					HandleRef:   handleRef,
					HandleValue: handleValue,
					KeptUserID:  existing.ID,
					OtherUserID: other.ID,
				}
			}
		}
		return res, nil
	}

	u := r.newUser(handleRef, handleValue, canonical)
	if err := r.db.UpsertUser(u); err != nil {
		return nil, err
	}
	return &Resolution{User: u, Created: true}, nil
}

// ResolveSelf returns the user representing the local account, creating it
// on first use. All from-me messages hang off this identity.
func (r *Resolver) ResolveSelf() (*store.User, error) {
	id := SyntheticID(selfRef)
	existing, err := r.db.GetUser(id)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}
	u := &store.User{ID: id, FirstName: "Me", Synthetic: true}
	if err := r.db.UpsertUser(u); err != nil {
		return nil, err
	}
	return u, nil
}

func (r *Resolver) lookup(handleRef int64, canonical string) (*store.User, error) {
	if canonical != "" {
		if IsEmail(canonical) {
			if u, err := r.db.UserByEmail(canonical); err != nil || u != nil {
				return u, err
			}
		} else {
			for _, candidate := range phoneCandidates(canonical) {
				if u, err := r.db.UserByPhone(candidate); err != nil || u != nil {
					return u, err
				}
			}
		}
	}
	if handleRef != 0 {
		return r.db.UserByHandleRef(handleRef)
	}
	return nil, nil
}

func (r *Resolver) newUser(handleRef int64, handleValue, canonical string) *store.User {
	u := &store.User{HandleRef: handleRef}
	if IsEmail(canonical) {
		u.Email = canonical
	} else {
		u.Phone = canonical
	}

	if name, ok := r.dir.Lookup(handleValue); ok {
		u.ID = uuid.NewString()
		u.FirstName = name.First
		u.LastName = name.Last
		return u
	}

	ref := canonical
	if ref == "" {
		ref = fmt.Sprintf("handle:%d", handleRef)
	}
	u.ID = SyntheticID(ref)
	u.Synthetic = true
	return u
}
