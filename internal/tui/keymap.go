package tui

// Key bindings handled by the model.
const (
	KeyQuit        = "q"
	KeyQuitUpper   = "Q"
	KeyCtrlC       = "ctrl+c"
	KeySpace       = " "
	KeyToggleSys   = "s"
	KeyToggleSysUp = "S"
)
