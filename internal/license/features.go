package license

// Feature identifies one gateable capability of the application.
type Feature string

const (
	// FeatureCore is the primary function of the application and stays
	// available in every mode.
	FeatureCore Feature = "core"
	// FeatureHelp is the always-available companion feature.
	FeatureHelp Feature = "help"

	FeatureExport     Feature = "export"
	FeatureSync       Feature = "sync"
	FeatureThemes     Feature = "themes"
	FeatureStatistics Feature = "statistics"
	FeatureBackup     Feature = "backup"
)

// fullFeatureSet is shared by registered and trial mode.
var fullFeatureSet = map[Feature]bool{
	FeatureCore:       true,
	FeatureHelp:       true,
	FeatureExport:     true,
	FeatureSync:       true,
	FeatureThemes:     true,
	FeatureStatistics: true,
	FeatureBackup:     true,
}

// baselineFeatureSet is what expired and restricted installations keep.
var baselineFeatureSet = map[Feature]bool{
	FeatureCore: true,
	FeatureHelp: true,
}

// featureTable maps each mode to its allow-list. A feature absent from a
// mode's list is disabled: the default is deny, so new features must be
// registered here explicitly before any mode can use them.
var featureTable = map[Mode]map[Feature]bool{
	ModeRegistered: fullFeatureSet,
	ModeTrial:      fullFeatureSet,
	ModeExpired:    baselineFeatureSet,
	ModeRestricted: baselineFeatureSet,
}

// IsEnabled reports whether the given feature is available in the given
// mode. Unknown modes and unknown features are denied.
func IsEnabled(mode Mode, feature Feature) bool {
	allowed, ok := featureTable[mode]
	if !ok {
		return false
	}
	return allowed[feature]
}

// AllowAutoUpdate reports whether the updater may fetch and apply releases
// in the given mode. Restricted installations stay as they are until status
// can be established.
func AllowAutoUpdate(mode Mode) bool {
	switch mode {
	case ModeRegistered, ModeTrial, ModeExpired:
		return true
	}
	return false
}
