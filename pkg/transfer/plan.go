package transfer

import (
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/google/uuid"
	"github.com/quocson95/duopane/pkg/storage"
)

// Direction of a transfer relative to the local machine
type Direction int

const (
	Upload Direction = iota
	Download
)

func (d Direction) String() string {
	if d == Download {
		return "download"
	}
	return "upload"
}

// Plan describes one copy between the local machine and a remote host.
// Source is the file or directory being copied; DestDir is the directory
// it is copied into. For uploads Source is local and DestDir remote, for
// downloads the other way round.
type Plan struct {
	ID        string
	Direction Direction
	Source    string
	DestDir   string
	IsDir     bool

	// Remote carries the resolved address and credential of the remote side
	Remote storage.Profile
}

// NewPlan creates a plan with a fresh ID
func NewPlan(dir Direction, source, destDir string, isDir bool, remote storage.Profile) Plan {
	return Plan{
		ID:        uuid.NewString(),
		Direction: dir,
		Source:    source,
		DestDir:   destDir,
		IsDir:     isDir,
		Remote:    remote,
	}
}

// Name is the base name of the source
func (p Plan) Name() string {
	return path.Base(strings.TrimRight(p.Source, "/"))
}

// Validate checks the plan has everything a command needs
func (p Plan) Validate() error {
	if p.Source == "" {
		return errors.New("transfer source is required")
	}
	if p.DestDir == "" {
		return errors.New("transfer destination is required")
	}
	if err := p.Remote.Validate(); err != nil {
		return fmt.Errorf("invalid remote: %w", err)
	}
	return nil
}

func (p Plan) String() string {
	return fmt.Sprintf("%s %s -> %s (%s)", p.Direction, p.Source, p.DestDir, p.Remote.Key())
}
