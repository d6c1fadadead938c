package syncer

import "fmt"

// Policy chooses between create and update for a document that may already
// exist on the server.
type Policy int

const (
	// UpdateIfExists PUTs over a matching record and POSTs otherwise.
	UpdateIfExists Policy = iota
	// SkipIfExists leaves a matching record alone and POSTs otherwise.
	SkipIfExists
	// AlwaysCreate POSTs every document without searching.
	AlwaysCreate
)

var policyNames = map[Policy]string{
	UpdateIfExists: "update-if-exists",
	SkipIfExists:   "skip-if-exists",
	AlwaysCreate:   "always-create",
}

func (p Policy) String() string {
	if name, ok := policyNames[p]; ok {
		return name
	}
	return fmt.Sprintf("Policy(%d)", int(p))
}

// ParsePolicy accepts the names printed by String. An empty name is the
// default, UpdateIfExists.
func ParsePolicy(name string) (Policy, error) {
	if name == "" {
		return UpdateIfExists, nil
	}
	for p, n := range policyNames {
		if n == name {
			return p, nil
		}
	}
	return 0, fmt.Errorf("unknown policy %q (want skip-if-exists, update-if-exists or always-create)", name)
}

// searches reports whether the policy needs an existence check.
func (p Policy) searches() bool {
	return p != AlwaysCreate
}

// MarshalText encodes the policy by name for TOML.
func (p Policy) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText accepts the names ParsePolicy accepts.
func (p *Policy) UnmarshalText(text []byte) error {
	parsed, err := ParsePolicy(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}
