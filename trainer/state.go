package trainer

// State はトライアルの進行状態です。
//
//	INIT → OUTPUT_DIR_CLEARED → MODEL_BUILT → DATA_LOADED → TRAINING → EXPORTED
//
// EXPORTED だけが終端状態で、それ以前で止まったトライアルは失敗として扱われます。
type State int

const (
	StateInit State = iota
	StateOutputDirCleared
	StateModelBuilt
	StateDataLoaded
	StateTraining
	StateExported
)

var stateNames = [...]string{
	StateInit:             "INIT",
	StateOutputDirCleared: "OUTPUT_DIR_CLEARED",
	StateModelBuilt:       "MODEL_BUILT",
	StateDataLoaded:       "DATA_LOADED",
	StateTraining:         "TRAINING",
	StateExported:         "EXPORTED",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "UNKNOWN"
	}
	return stateNames[s]
}

// Terminal reports whether the trial finished successfully.
func (s State) Terminal() bool { return s == StateExported }
