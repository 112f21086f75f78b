package domain

const (
	// DefaultQueueCapacity bounds the executor command queue. A full
	// queue suspends submitters; this is the only admission control.
	DefaultQueueCapacity = 100

	// DefaultToolsDir is the discovery root scanned for script files.
	DefaultToolsDir = "tools"

	// StorageDirName is the tool-persistence directory under the user
	// data directory.
	StorageDirName = "tools.storage"

	// AppName names the per-application data directory.
	AppName = "tclmcp"
)

// SystemTools is the fixed built-in tool set. These paths are never
// persisted and cannot be added to or removed from.
func SystemTools() []ToolPath {
	return []ToolPath{
		Bin("tcl_execute"),
		Bin("tcl_tool_list"),
		Bin("exec_tool"),
		Bin("discover_tools"),
		Sbin("tcl_tool_add"),
		Sbin("tcl_tool_remove"),
		Docs("script_book"),
	}
}
