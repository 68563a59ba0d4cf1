package cmd

import (
	"errors"
	"flag"
	"strconv"

	"github.com/metabolights/folder-lens/lens"
)

// CustomFlag defines a custom CLI option.
type CustomFlag struct {
	Name         string
	DefaultValue any
	Usage        string
	Type         string // "string", "int", "bool"
}

// ParseFlags builds Config from standard and custom flags.
func ParseFlags(customFlags []CustomFlag) (*lens.Config, error) {
	config := &lens.Config{CustomFlags: make(map[string]string)}

	studiesDir := flag.String("studies", "", "Path to the directory holding one folder per study")
	studyIDs := flag.String("study", "", "Comma separated study ids to check, all study folders when empty")
	metadataFolder := flag.String("metadata", "", "Metadata sub folder of each study, the study root when empty")
	settingsFile := flag.String("settings", "", "YAML file overriding the classification and expansion settings")
	cacheDir := flag.String("cachedir", "", "Directory persisting the reference cache, in memory when empty")
	cacheMB := flag.Int("cachemb", 200, "Cache memory budget in MB")
	reportDir := flag.String("reports", "", "Directory to write one refactor report per study")
	baselineDir := flag.String("baseline", "", "Directory of previous refactor reports to diff against")
	reportJsonFile := flag.String("json", "studyreport.json", "File to output the warning summary")
	reportChartsFile := flag.String("charts", "", "File to output the warning overview chart image")
	classify := flag.Bool("classify", false, "Write the category and reference status of every study file")
	clearCache := flag.Bool("clearcache", false, "Drop every cached reference set before checking")
	logFile := flag.String("logfile", "", "Also write logs to this file, rotated by size")
	logMaxMB := flag.Int("logmaxmb", 50, "Log file size in MB before rotation")
	logMaxBackups := flag.Int("logbackups", 5, "Rotated log files to keep")
	logMaxAge := flag.Int("logmaxage", 28, "Days to keep rotated log files")

	customPtrs := make(map[string]interface{})
	for _, cf := range customFlags {
		switch cf.Type {
		case "string":
			customPtrs[cf.Name] = flag.String(cf.Name, cf.DefaultValue.(string), cf.Usage)
		case "int":
			customPtrs[cf.Name] = flag.Int(cf.Name, cf.DefaultValue.(int), cf.Usage)
		case "bool":
			customPtrs[cf.Name] = flag.Bool(cf.Name, cf.DefaultValue.(bool), cf.Usage)
		}
	}

	flag.Parse()

	if *studiesDir == "" {
		return nil, errors.New("all studies usage: -studies ./studies -reports ./out\nstudy usage: -studies ./studies -study MTBLS1,MTBLS2 -reports ./out")
	}

	config.StudiesDir = *studiesDir
	config.StudyIDsFlag = *studyIDs
	config.MetadataFolder = *metadataFolder
	config.SettingsFile = *settingsFile
	config.CacheDir = *cacheDir
	config.CacheMB = *cacheMB
	config.ReportDir = *reportDir
	config.BaselineDir = *baselineDir
	config.ReportJsonFile = *reportJsonFile
	config.ReportChartsFile = *reportChartsFile
	config.Classify = *classify
	config.ClearCache = *clearCache
	config.LogFile = *logFile
	config.LogMaxMB = *logMaxMB
	config.LogMaxBackups = *logMaxBackups
	config.LogMaxAgeDays = *logMaxAge

	// Populate custom flags - convert all to strings for ease of use
	for name, ptr := range customPtrs {
		switch v := ptr.(type) {
		case *string:
			config.CustomFlags[name] = *v
		case *int:
			config.CustomFlags[name] = strconv.Itoa(*v)
		case *bool:
			config.CustomFlags[name] = strconv.FormatBool(*v)
		}
	}

	return config, nil
}
