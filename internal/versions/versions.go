// Package versions reads and writes the installation's .ver files, the
// per-repository version markers the patch sequence is computed from.
package versions

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/gaveloc/launcher/internal/logging"
)

// Repository identifies one patchable component of the installation.
type Repository string

const (
	Boot Repository = "boot"
	Game Repository = "game"
	Ex1  Repository = "ex1"
	Ex2  Repository = "ex2"
	Ex3  Repository = "ex3"
	Ex4  Repository = "ex4"
	Ex5  Repository = "ex5"
)

// BaseVersion is the version a repository reports before any patch has
// been applied to it.
const BaseVersion = "2012.01.01.0000.0000"

var versionPattern = regexp.MustCompile(`^\d{4}\.\d{2}\.\d{2}\.\d{4}\.\d{4}$`)

// Valid reports whether s has the YYYY.MM.DD.PPPP.RRRR version shape.
func Valid(s string) bool {
	return versionPattern.MatchString(s)
}

// Repositories lists every known repository, base components first.
func Repositories() []Repository {
	return []Repository{Boot, Game, Ex1, Ex2, Ex3, Ex4, Ex5}
}

// Expansion reports whether the repository is an expansion pack, which
// may legitimately be absent from an installation.
func (r Repository) Expansion() bool {
	return r != Boot && r != Game
}

// VerFile returns the repository's .ver path under the installation root.
func (r Repository) VerFile(root string) string {
	switch r {
	case Boot:
		return filepath.Join(root, "boot", "ffxivboot.ver")
	case Game:
		return filepath.Join(root, "game", "ffxivgame.ver")
	default:
		return filepath.Join(root, "game", "sqpack", string(r), string(r)+".ver")
	}
}

// ReportName is the repository's name inside the version report sent
// during session registration. The base game reports as "ffxiv".
func (r Repository) ReportName() string {
	if r == Game {
		return "ffxiv"
	}
	return string(r)
}

// Info pairs a repository with its current version.
type Info struct {
	Repository Repository `json:"repository"`
	Version    string     `json:"version"`
}

// Store reads and writes version markers for one installation.
type Store struct {
	root string
	log  *slog.Logger
}

// NewStore creates a store rooted at the installation directory.
func NewStore(root string) *Store {
	return &Store{root: root, log: logging.L("versions")}
}

// Read returns the repository's current version. A missing file for an
// expansion means the expansion is not installed and reads as the base
// version; a missing base repository file is an error.
func (s *Store) Read(repo Repository) (string, error) {
	data, err := os.ReadFile(repo.VerFile(s.root))
	if err != nil {
		if os.IsNotExist(err) && repo.Expansion() {
			return BaseVersion, nil
		}
		return "", fmt.Errorf("read %s version: %w", repo, err)
	}

	version := strings.TrimSpace(string(data))
	if !Valid(version) {
		return "", fmt.Errorf("read %s version: malformed contents %q", repo, version)
	}
	return version, nil
}

// Write records a new version for the repository, keeping the previous
// marker as a .bck file so a bad write can be recovered by hand.
func (s *Store) Write(repo Repository, version string) error {
	if !Valid(version) {
		return fmt.Errorf("write %s version: malformed version %q", repo, version)
	}

	path := repo.VerFile(s.root)
	if err := s.backup(path); err != nil {
		return fmt.Errorf("write %s version: %w", repo, err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("write %s version: %w", repo, err)
	}
	if err := os.WriteFile(path, []byte(version), 0o644); err != nil {
		return fmt.Errorf("write %s version: %w", repo, err)
	}

	s.log.Info("version updated", "repository", repo, "version", version)
	return nil
}

func (s *Store) backup(path string) error {
	src, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer src.Close()

	dst, err := os.Create(path + ".bck")
	if err != nil {
		return err
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return err
	}
	return dst.Sync()
}

// Report reads every repository's version. Expansions that are not
// installed are skipped rather than reported at base version.
func (s *Store) Report() ([]Info, error) {
	var out []Info
	for _, repo := range Repositories() {
		if repo.Expansion() {
			if _, err := os.Stat(repo.VerFile(s.root)); os.IsNotExist(err) {
				continue
			}
		}
		version, err := s.Read(repo)
		if err != nil {
			return nil, err
		}
		out = append(out, Info{Repository: repo, Version: version})
	}
	return out, nil
}

// VersionReport builds the newline-separated repo/version report the
// patch server expects when a session is registered. Boot is excluded;
// expansions are included up to maxExpansion regardless of whether their
// .ver file exists, since absent expansions report the base version.
func (s *Store) VersionReport(maxExpansion int) (string, error) {
	repos := []Repository{Game, Ex1, Ex2, Ex3, Ex4, Ex5}
	if maxExpansion > len(repos)-1 {
		maxExpansion = len(repos) - 1
	}

	var lines []string
	for i, repo := range repos[:maxExpansion+1] {
		version, err := s.Read(repo)
		if err != nil {
			return "", fmt.Errorf("version report entry %d: %w", i, err)
		}
		lines = append(lines, repo.ReportName()+"/"+version)
	}
	return strings.Join(lines, "\n"), nil
}

// ValidateInstall checks that the installation root holds readable
// version markers for both base repositories.
func (s *Store) ValidateInstall() error {
	for _, repo := range []Repository{Boot, Game} {
		if _, err := s.Read(repo); err != nil {
			return fmt.Errorf("installation at %s is incomplete: %w", s.root, err)
		}
	}
	return nil
}
