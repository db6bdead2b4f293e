package permission

// Identity is the acting user as seen by the engine.
type Identity struct {
	ID        uint
	Name      string
	Anonymous bool
	Admin     bool
	Disabled  bool
	Groups    []uint
}

// Anonymous returns the identity of an unauthenticated visitor.
func Anonymous() Identity {
	return Identity{Anonymous: true}
}

// Guest reports whether the identity is evaluated as an anonymous visitor.
// Disabled accounts lose every privilege their groups would grant.
func (i Identity) Guest() bool {
	return i.Anonymous || i.Disabled
}

// Owns reports whether the identity is the owner recorded on target.
func (i Identity) Owns(target *Target) bool {
	if target == nil || target.OwnerID == nil || i.Guest() {
		return false
	}
	return *target.OwnerID == i.ID
}

// UserID returns the identity's user id, or nil for guests.
func (i Identity) UserID() *uint {
	if i.Guest() || i.ID == 0 {
		return nil
	}
	id := i.ID
	return &id
}

// Target is the page-side input of an evaluation.
type Target struct {
	PageID  uint
	OwnerID *uint
	Locked  bool
}

// Input gathers everything Evaluate needs. Baselines holds the masks of the
// groups the identity is evaluated with; Overrides the masks those groups
// receive on Target.
type Input struct {
	Identity  Identity
	Baselines []Bits
	Overrides []Bits
	Target    *Target
}

// Evaluate computes the effective capability mask.
func Evaluate(in Input) Bits {
	if in.Identity.Admin && !in.Identity.Guest() {
		return All
	}

	var bits Bits
	for _, baseline := range in.Baselines {
		bits |= baseline
	}

	if in.Target == nil {
		if in.Identity.Guest() {
			bits &= LockMask
		}
		return bits
	}

	for _, override := range in.Overrides {
		bits |= override
	}

	if in.Target.Locked && !in.Identity.Owns(in.Target) {
		bits &= LockMask
	}

	return bits
}

// CanEdit applies the edit rule to an evaluated mask: the edit bit, or the
// create bit on a page the identity owns.
func CanEdit(identity Identity, target *Target, bits Bits) bool {
	if bits.Has(Edit) {
		return true
	}
	return identity.Owns(target) && bits.Has(Create)
}
