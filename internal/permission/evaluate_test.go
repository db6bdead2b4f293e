package permission

import "testing"

func uintPtr(v uint) *uint {
	return &v
}

func TestEvaluateAnonymousWithoutPageMasksEditBits(t *testing.T) {
	t.Parallel()

	bits := Evaluate(Input{Identity: Anonymous(), Baselines: []Bits{All}})
	if bits != Read {
		t.Fatalf("expected read only, got %s", bits)
	}
}

func TestEvaluateAnonymousOnUnlockedPageKeepsDefaultBits(t *testing.T) {
	t.Parallel()

	target := &Target{PageID: 1, OwnerID: uintPtr(7)}
	bits := Evaluate(Input{Identity: Anonymous(), Baselines: []Bits{Read | Edit}, Target: target})
	if bits != Read|Edit {
		t.Fatalf("expected read|edit, got %s", bits)
	}

	target.Locked = true
	bits = Evaluate(Input{Identity: Anonymous(), Baselines: []Bits{Read | Edit}, Target: target})
	if bits != Read {
		t.Fatalf("expected lock to strip edit, got %s", bits)
	}
}

func TestEvaluateAdminBypass(t *testing.T) {
	t.Parallel()

	admin := Identity{ID: 2, Admin: true}
	locked := &Target{PageID: 1, OwnerID: uintPtr(9), Locked: true}

	for _, target := range []*Target{nil, locked} {
		if bits := Evaluate(Input{Identity: admin, Target: target}); bits != All {
			t.Fatalf("expected admin to hold all bits, got %s", bits)
		}
	}
}

func TestEvaluateDisabledAdminIsGuest(t *testing.T) {
	t.Parallel()

	disabled := Identity{ID: 2, Admin: true, Disabled: true}
	if bits := Evaluate(Input{Identity: disabled, Baselines: []Bits{All}}); bits != Read {
		t.Fatalf("expected disabled admin to be treated as anonymous, got %s", bits)
	}
}

func TestEvaluateLockMasking(t *testing.T) {
	t.Parallel()

	owner := Identity{ID: 1, Groups: []uint{1}}
	other := Identity{ID: 2, Groups: []uint{1}}
	target := &Target{PageID: 10, OwnerID: uintPtr(1), Locked: true}

	for _, baseline := range []Bits{All, Edit | SetTags, Read | Create | SetURL} {
		in := Input{Baselines: []Bits{baseline}, Target: target}

		in.Identity = other
		if bits := Evaluate(in); bits&(Edit|Create|SetURL|SetTags) != 0 {
			t.Fatalf("expected edit-class bits cleared for non-owner, got %s", bits)
		}

		in.Identity = owner
		if bits := Evaluate(in); bits != baseline {
			t.Fatalf("expected owner bits %s unaffected by lock, got %s", baseline, bits)
		}
	}
}

func TestEvaluateOverridesAreMonotonic(t *testing.T) {
	t.Parallel()

	user := Identity{ID: 3, Groups: []uint{4}}
	target := &Target{PageID: 1}

	for _, baseline := range []Bits{0, Read, Read | Edit, All} {
		before := Evaluate(Input{Identity: user, Baselines: []Bits{baseline}, Target: target})
		for bit := Bits(1); bit <= SetTags; bit <<= 1 {
			after := Evaluate(Input{
				Identity:  user,
				Baselines: []Bits{baseline},
				Overrides: []Bits{bit},
				Target:    target,
			})
			if after&before != before {
				t.Fatalf("override %s decreased bits from %s to %s", bit, before, after)
			}
			if !after.Has(bit) {
				t.Fatalf("expected override %s to be granted, got %s", bit, after)
			}
		}
	}
}

func TestEvaluateSiteWideIgnoresOverrides(t *testing.T) {
	t.Parallel()

	user := Identity{ID: 3, Groups: []uint{4}}
	bits := Evaluate(Input{Identity: user, Baselines: []Bits{Read, Create}, Overrides: []Bits{Edit}})
	if bits != Read|Create {
		t.Fatalf("expected overrides ignored without a page, got %s", bits)
	}
}

func TestCanEditOwnerWithCreate(t *testing.T) {
	t.Parallel()

	owner := Identity{ID: 1}
	other := Identity{ID: 2}
	target := &Target{PageID: 1, OwnerID: uintPtr(1)}

	if !CanEdit(owner, target, Read|Create) {
		t.Fatalf("expected owner with create to edit")
	}
	if CanEdit(other, target, Read|Create) {
		t.Fatalf("expected non-owner without edit to be refused")
	}
	if !CanEdit(other, target, Edit) {
		t.Fatalf("expected edit bit to allow editing")
	}
}

func TestBitsStringAndParse(t *testing.T) {
	t.Parallel()

	if got := (Read | SetTags).String(); got != "read|set_tags" {
		t.Fatalf("unexpected string %q", got)
	}
	if got := Bits(0).String(); got != "none" {
		t.Fatalf("unexpected string %q", got)
	}

	bits, ok := ParseBits("read, edit")
	if !ok || bits != Read|Edit {
		t.Fatalf("expected read|edit, got %s (%t)", bits, ok)
	}
	if bits, ok := ParseBits("all"); !ok || bits != All {
		t.Fatalf("expected all, got %s", bits)
	}
	if _, ok := ParseBits("fly"); ok {
		t.Fatalf("expected unknown capability to fail")
	}
	if LockMask != Read {
		t.Fatalf("expected lock mask to equal read, got %s", LockMask)
	}
}
