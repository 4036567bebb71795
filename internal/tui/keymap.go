package tui

// Recording screen keys.
const (
	KeyQuit          = "q"
	KeyQuitUpper     = "Q"
	KeyCtrlC         = "ctrl+c"
	KeySpace         = " "
	KeyRecord        = "r"
	KeyNormalize     = "n"
	KeyGainUp        = "+"
	KeyGainUpAlt     = "="
	KeyGainDown      = "-"
	KeyCycleDevice   = "i"
	KeyCycleDeviceUp = "I"
	KeyRefresh       = "l"
)

// Trim screen keys.
const (
	KeyLoop           = "l"
	KeySwitchHandle   = "tab"
	KeyLeft           = "left"
	KeyRight          = "right"
	KeyShiftLeft      = "shift+left"
	KeyShiftRight     = "shift+right"
	KeyResetSelection = "r"
	KeySave           = "s"
	KeyVolumeUp       = "v"
	KeyVolumeDown     = "V"
)
