package storage

import "path"

// Default corpus layout names. They match what the annotation tool expects
// on its side, so the same relative layout is used in storage, in the local
// staging area and on the annotation host.
const (
	DefaultSourceDir  = "source"
	DefaultExportDir  = "export"
	DefaultWorkDir    = "sparv-workdir"
	DefaultConfigFile = "config.yaml"
)

// Paths resolves logical corpus paths within a backend.
type Paths struct {
	// Root is the path prefix under which all corpora live.
	Root string

	// SourceDir, ExportDir, WorkDir and ConfigFile override the default
	// layout names when non-empty.
	SourceDir  string
	ExportDir  string
	WorkDir    string
	ConfigFile string
}

func (p Paths) sourceDir() string {
	if p.SourceDir != "" {
		return p.SourceDir
	}
	return DefaultSourceDir
}

func (p Paths) exportDir() string {
	if p.ExportDir != "" {
		return p.ExportDir
	}
	return DefaultExportDir
}

func (p Paths) workDir() string {
	if p.WorkDir != "" {
		return p.WorkDir
	}
	return DefaultWorkDir
}

func (p Paths) configFile() string {
	if p.ConfigFile != "" {
		return p.ConfigFile
	}
	return DefaultConfigFile
}

// CorpusDir returns the directory holding everything for one corpus.
func (p Paths) CorpusDir(corpusID string) string {
	return path.Join(p.Root, corpusID)
}

// CorpusSourceDir returns the corpus source-file directory.
func (p Paths) CorpusSourceDir(corpusID string) string {
	return path.Join(p.CorpusDir(corpusID), p.sourceDir())
}

// CorpusExportDir returns the corpus export directory.
func (p Paths) CorpusExportDir(corpusID string) string {
	return path.Join(p.CorpusDir(corpusID), p.exportDir())
}

// CorpusWorkDir returns the annotation tool's working directory for a corpus.
func (p Paths) CorpusWorkDir(corpusID string) string {
	return path.Join(p.CorpusDir(corpusID), p.workDir())
}

// CorpusConfigFile returns the path of the corpus configuration file.
func (p Paths) CorpusConfigFile(corpusID string) string {
	return path.Join(p.CorpusDir(corpusID), p.configFile())
}

// ConfigFileName returns the bare config file name within a corpus dir.
func (p Paths) ConfigFileName() string {
	return p.configFile()
}

// SourceDirName returns the bare source dir name within a corpus dir.
func (p Paths) SourceDirName() string {
	return p.sourceDir()
}

// ExportDirName returns the bare export dir name within a corpus dir.
func (p Paths) ExportDirName() string {
	return p.exportDir()
}

// WorkDirName returns the bare workdir name within a corpus dir.
func (p Paths) WorkDirName() string {
	return p.workDir()
}
