package versions

import (
	"os"
	"path/filepath"
	"testing"
)

func writeVer(t *testing.T, root string, repo Repository, version string) {
	t.Helper()
	path := repo.VerFile(root)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(version), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestReadTrimsAndValidates(t *testing.T) {
	root := t.TempDir()
	writeVer(t, root, Game, "2026.08.01.0000.0001\n")

	s := NewStore(root)
	got, err := s.Read(Game)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if got != "2026.08.01.0000.0001" {
		t.Errorf("version = %q", got)
	}
}

func TestReadMalformedVersion(t *testing.T) {
	root := t.TempDir()
	writeVer(t, root, Boot, "not-a-version")

	if _, err := NewStore(root).Read(Boot); err == nil {
		t.Fatal("expected error for malformed version file")
	}
}

func TestMissingExpansionReadsBase(t *testing.T) {
	s := NewStore(t.TempDir())
	got, err := s.Read(Ex3)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if got != BaseVersion {
		t.Errorf("version = %q, want base %q", got, BaseVersion)
	}
}

func TestMissingBaseRepositoryErrors(t *testing.T) {
	if _, err := NewStore(t.TempDir()).Read(Game); err == nil {
		t.Fatal("expected error for missing game version file")
	}
}

func TestWriteKeepsBackup(t *testing.T) {
	root := t.TempDir()
	writeVer(t, root, Game, "2026.08.01.0000.0001")

	s := NewStore(root)
	if err := s.Write(Game, "2026.08.15.0000.0002"); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	got, err := s.Read(Game)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if got != "2026.08.15.0000.0002" {
		t.Errorf("version = %q", got)
	}

	backup, err := os.ReadFile(Game.VerFile(root) + ".bck")
	if err != nil {
		t.Fatalf("backup missing: %v", err)
	}
	if string(backup) != "2026.08.01.0000.0001" {
		t.Errorf("backup = %q", backup)
	}
}

func TestWriteRejectsMalformedVersion(t *testing.T) {
	if err := NewStore(t.TempDir()).Write(Game, "1.2.3"); err == nil {
		t.Fatal("expected error for malformed version")
	}
}

func TestWriteFirstVersionWithoutBackup(t *testing.T) {
	root := t.TempDir()
	s := NewStore(root)

	if err := s.Write(Ex1, "2026.08.01.0000.0001"); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if _, err := os.Stat(Ex1.VerFile(root) + ".bck"); !os.IsNotExist(err) {
		t.Error("backup should not exist for a first write")
	}
}

func TestReportSkipsMissingExpansions(t *testing.T) {
	root := t.TempDir()
	writeVer(t, root, Boot, "2026.01.01.0000.0001")
	writeVer(t, root, Game, "2026.08.01.0000.0001")
	writeVer(t, root, Ex1, "2026.05.01.0000.0001")

	report, err := NewStore(root).Report()
	if err != nil {
		t.Fatalf("Report failed: %v", err)
	}
	if len(report) != 3 {
		t.Fatalf("report has %d entries, want 3", len(report))
	}
	if report[0].Repository != Boot || report[2].Repository != Ex1 {
		t.Errorf("report order = %+v", report)
	}
}

func TestValidateInstall(t *testing.T) {
	root := t.TempDir()
	writeVer(t, root, Boot, "2026.01.01.0000.0001")

	s := NewStore(root)
	if err := s.ValidateInstall(); err == nil {
		t.Fatal("expected error with game version missing")
	}

	writeVer(t, root, Game, "2026.08.01.0000.0001")
	if err := s.ValidateInstall(); err != nil {
		t.Fatalf("ValidateInstall failed: %v", err)
	}
}

func TestVersionReport(t *testing.T) {
	root := t.TempDir()
	writeVer(t, root, Game, "2026.08.01.0000.0001")
	writeVer(t, root, Ex1, "2026.05.01.0000.0001")

	report, err := NewStore(root).VersionReport(2)
	if err != nil {
		t.Fatalf("VersionReport failed: %v", err)
	}

	want := "ffxiv/2026.08.01.0000.0001\nex1/2026.05.01.0000.0001\nex2/" + BaseVersion
	if report != want {
		t.Errorf("report = %q, want %q", report, want)
	}
}

func TestVerFilePaths(t *testing.T) {
	cases := []struct {
		repo Repository
		want string
	}{
		{Boot, filepath.Join("root", "boot", "ffxivboot.ver")},
		{Game, filepath.Join("root", "game", "ffxivgame.ver")},
		{Ex2, filepath.Join("root", "game", "sqpack", "ex2", "ex2.ver")},
	}
	for _, tc := range cases {
		if got := tc.repo.VerFile("root"); got != tc.want {
			t.Errorf("VerFile(%s) = %q, want %q", tc.repo, got, tc.want)
		}
	}
}
