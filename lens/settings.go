package lens

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ClassifierSettings configures the file classifier beyond the mapping tables.
type ClassifierSettings struct {
	RawExtensions        []string `yaml:"raw_extensions"`
	DerivedExtensions    []string `yaml:"derived_extensions"`
	CompressedExtensions []string `yaml:"compressed_extensions"`
	// InternalMappingPaths are study relative paths, only entries containing a separator are matched as substrings.
	InternalMappingPaths []string `yaml:"internal_mapping_paths"`
	// IgnoreTokens mark a designation as part of a vendor raw bundle.
	IgnoreTokens []string `yaml:"ignore_tokens"`
}

// ExpandOptions tunes referenced path expansion.
type ExpandOptions struct {
	IgnoredFolders   []string `yaml:"ignored_folders"`
	BundleExtensions []string `yaml:"bundle_extensions"`
	MarkerFiles      []string `yaml:"marker_files"`
}

// Settings holds every engine tunable, loadable from YAML.
type Settings struct {
	MappingFile       string             `yaml:"mapping_file"`
	StatusMappingFile string             `yaml:"status_mapping_file"`
	Classifier        ClassifierSettings `yaml:"classifier"`
	Expand            ExpandOptions      `yaml:"expand"`
	Pairs             PairTables         `yaml:"pairs"`
	// IgnoredNames are file or folder names never reported as unreferenced.
	IgnoredNames []string `yaml:"ignored_names"`
}

// DefaultSettings returns the built in settings.
func DefaultSettings() Settings {
	sep := string(filepath.Separator)
	return Settings{
		Classifier: ClassifierSettings{
			RawExtensions: []string{".d", ".raw", ".idb", ".cdf", ".wiff", ".scan", ".dat", ".cmp", ".abf",
				".lcd", ".qgd", ".mgf", ".fid", ".baf", ".tdf", ".yep"},
			DerivedExtensions: []string{".mzml", ".nmrml", ".mzxml", ".mzdata", ".cef", ".cnx", ".peakml",
				".xy", ".imzml", ".ibd", ".mztab"},
			CompressedExtensions: []string{".zip", ".zipx", ".gz", ".tar", ".7z", ".z", ".rar", ".bz2",
				".xz", ".tgz", ".tar.gz", ".tar.bz2"},
			InternalMappingPaths: []string{"AUDIT_FILES" + sep, "INTERNAL_FILES" + sep, "chebi_pipeline_annotations" + sep},
			IgnoreTokens: []string{"acqus", "procs", "pulseprogram", "uxnmr", "specpar", "audita",
				"shimvalues", "scon2", "precom"},
		},
		Expand: ExpandOptions{
			BundleExtensions: []string{".raw", ".RAW", ".D", ".d"},
			MarkerFiles:      []string{"fid", "acqu", "acqus"},
			IgnoredFolders:   []string{"AUDIT_FILES", "INTERNAL_FILES", "chebi_pipeline_annotations"},
		},
		Pairs: DefaultPairTables(),
		IgnoredNames: []string{"AUDIT_FILES", "INTERNAL_FILES", "chebi_pipeline_annotations",
			".DS_Store", "Thumbs.db"},
	}
}

// LoadSettings reads a YAML settings file on top of DefaultSettings. Fields absent from the file keep their defaults.
func LoadSettings(path string) (Settings, error) {
	settings := DefaultSettings()
	if path == "" {
		return settings, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return settings, fmt.Errorf("read settings failed: %w", err)
	}
	if err := yaml.Unmarshal(data, &settings); err != nil {
		return settings, fmt.Errorf("parse settings %s failed: %w", path, err)
	}
	return settings, nil
}
