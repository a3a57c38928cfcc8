package gate

import (
	"fmt"
	"strings"

	"github.com/hupe1980/adadisk"
	"github.com/hupe1980/adadisk/dataset"
	"github.com/hupe1980/adadisk/internal/fs"
	"github.com/hupe1980/adadisk/namespace"
)

// Policy selects when pipeline steps run.
type Policy int

const (
	// BuildIfMissing runs a step only when its output is absent (consumer).
	BuildIfMissing Policy = iota
	// AlwaysRebuild runs every step on every run (producer).
	AlwaysRebuild
)

func (p Policy) String() string {
	switch p {
	case BuildIfMissing:
		return "build-if-missing"
	case AlwaysRebuild:
		return "always-rebuild"
	default:
		return fmt.Sprintf("Policy(%d)", int(p))
	}
}

// ParsePolicy parses "build-if-missing" or "always-rebuild".
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(s) {
	case "build-if-missing", "":
		return BuildIfMissing, nil
	case "always-rebuild":
		return AlwaysRebuild, nil
	default:
		return 0, fmt.Errorf("%w: unknown policy %q", adadisk.ErrInvalidArgument, s)
	}
}

// Verification selects what counts as a finished index.
type Verification int

const (
	// VerifyManifest requires a completion manifest matching the artifacts on disk.
	VerifyManifest Verification = iota
	// SentinelOnly trusts the presence of the sentinel artifact.
	SentinelOnly
)

func (v Verification) String() string {
	switch v {
	case VerifyManifest:
		return "manifest"
	case SentinelOnly:
		return "sentinel"
	default:
		return fmt.Sprintf("Verification(%d)", int(v))
	}
}

// ParseVerification parses "manifest" or "sentinel".
func ParseVerification(s string) (Verification, error) {
	switch strings.ToLower(s) {
	case "manifest", "":
		return VerifyManifest, nil
	case "sentinel":
		return SentinelOnly, nil
	default:
		return 0, fmt.Errorf("%w: unknown verification mode %q", adadisk.ErrInvalidArgument, s)
	}
}

// Option configures a Checker.
type Option func(*Checker)

// WithFileSystem sets the filesystem existence checks go through.
func WithFileSystem(fsys fs.FileSystem) Option {
	return func(c *Checker) {
		if fsys != nil {
			c.fsys = fsys
		}
	}
}

// WithVerification sets the verification mode.
func WithVerification(v Verification) Option {
	return func(c *Checker) { c.verification = v }
}

// Checker answers existence questions about namespace entries.
type Checker struct {
	fsys         fs.FileSystem
	verification Verification
}

// NewChecker creates a Checker. The default mode is VerifyManifest.
func NewChecker(opts ...Option) *Checker {
	c := &Checker{fsys: fs.Default, verification: VerifyManifest}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Verification returns the checker's mode.
func (c *Checker) Verification() Verification { return c.verification }

// DatasetExists reports whether the dataset at path is present. In
// VerifyManifest mode the file must also satisfy the size invariant.
func (c *Checker) DatasetExists(path string) bool {
	if c.verification == SentinelOnly {
		return fs.Exists(c.fsys, path)
	}
	_, err := dataset.StatFS(c.fsys, path)
	return err == nil
}

// IndexBuilt reports whether the sentinel artifact is present.
func (c *Checker) IndexBuilt(sentinelPath string) bool {
	return fs.Exists(c.fsys, sentinelPath)
}

// IndexComplete reports whether the entry's index is finished according to
// the checker's mode.
func (c *Checker) IndexComplete(entry namespace.Entry) bool {
	if c.verification == SentinelOnly {
		return c.IndexBuilt(entry.SentinelPath)
	}
	return c.Verify(entry) == nil
}

// Verify explains why an entry's index is not complete, or returns nil.
func (c *Checker) Verify(entry namespace.Entry) error {
	if !c.IndexBuilt(entry.SentinelPath) {
		return fmt.Errorf("sentinel %s is missing", entry.SentinelPath)
	}
	if c.verification == SentinelOnly {
		return nil
	}

	m, err := ReadManifest(c.fsys, entry.ManifestPath)
	if err != nil {
		return err
	}
	return m.Verify(c.fsys, entry)
}

// Gate applies a Policy to a Checker.
type Gate struct {
	Checker *Checker
	Policy  Policy
}

// New returns a Gate.
func New(policy Policy, checker *Checker) Gate {
	if checker == nil {
		checker = NewChecker()
	}
	return Gate{Checker: checker, Policy: policy}
}

// NeedGenerate reports whether the dataset must be generated.
func (g Gate) NeedGenerate(entry namespace.Entry) bool {
	if g.Policy == AlwaysRebuild {
		return true
	}
	return !g.Checker.DatasetExists(entry.DataPath)
}

// NeedBuild reports whether the index must be built.
func (g Gate) NeedBuild(entry namespace.Entry) bool {
	if g.Policy == AlwaysRebuild {
		return true
	}
	return !g.Checker.IndexComplete(entry)
}
