package agentloop

import "github.com/BaSui01/tasker/types"

// Tool names dispatched by (*Runner).dispatch. These mirror the CDP
// Driver operation surface (spec §4.B) one-to-one, plus the three
// loop-internal tools (save_note, recall_notes, done) that never reach
// the browser.
const (
	toolNavigate              = "navigate"
	toolClick                 = "click"
	toolType                  = "type"
	toolSelectDropdownOption  = "select_dropdown_option"
	toolGetDropdownOptions    = "get_dropdown_options"
	toolScroll                = "scroll"
	toolSendKeys              = "send_keys"
	toolGoBack                = "go_back"
	toolReload                = "reload"
	toolNewTab                = "new_tab"
	toolCloseTab              = "close_tab"
	toolSwitchTab             = "switch_tab"
	toolExecuteJavaScript     = "execute_javascript"
	toolExtractPageContent    = "extract_page_content"
	toolReadFile              = "read_file"
	toolWriteFile             = "write_file"
	toolReplaceInFile         = "replace_in_file"
	toolWait                  = "wait"
	toolSaveNote              = "save_note"
	toolRecallNotes           = "recall_notes"
	toolDone                  = "done"
)

// toolSchemas is the static tool list attached to every ChatRequest
// (spec §4.D: "tools is a static schema listing every tool the agent
// can invoke, plus save_note(text), recall_notes(), done(summary)").
func toolSchemas() []types.ToolSchema {
	str := func(desc string) map[string]any { return map[string]any{"type": "string", "description": desc} }
	intP := func(desc string) map[string]any { return map[string]any{"type": "integer", "description": desc} }
	boolP := func(desc string) map[string]any { return map[string]any{"type": "boolean", "description": desc} }
	schema := func(props map[string]any, required ...string) map[string]any {
		return map[string]any{"type": "object", "properties": props, "required": required}
	}

	return []types.ToolSchema{
		{Name: toolNavigate, Description: "Navigate the active tab to a URL.",
			Parameters: schema(map[string]any{"url": str("absolute URL to load")}, "url")},
		{Name: toolClick, Description: "Click the element at the given snapshot index.",
			Parameters: schema(map[string]any{"index": intP("index from the most recent snapshot")}, "index")},
		{Name: toolType, Description: "Focus the indexed element and type text into it.",
			Parameters: schema(map[string]any{
				"index":       intP("index from the most recent snapshot"),
				"text":        str("text to type"),
				"clear_first": boolP("clear the field before typing"),
			}, "index", "text")},
		{Name: toolSelectDropdownOption, Description: "Set a <select> element's value by visible text or value.",
			Parameters: schema(map[string]any{"index": intP("index of the select element"), "option": str("visible text or value to select")}, "index", "option")},
		{Name: toolGetDropdownOptions, Description: "List the options of a <select> element.",
			Parameters: schema(map[string]any{"index": intP("index of the select element")}, "index")},
		{Name: toolScroll, Description: "Scroll the page or nearest scrollable ancestor.",
			Parameters: schema(map[string]any{
				"direction":  str("one of up, down, left, right"),
				"amount_px":  intP("pixels to scroll; defaults to one viewport height"),
			}, "direction")},
		{Name: toolSendKeys, Description: "Dispatch a key chord, e.g. Control+Enter.",
			Parameters: schema(map[string]any{"keys": str("key chord")}, "keys")},
		{Name: toolGoBack, Description: "Navigate back in tab history.", Parameters: schema(map[string]any{})},
		{Name: toolReload, Description: "Reload the active tab.", Parameters: schema(map[string]any{})},
		{Name: toolNewTab, Description: "Open a new tab, optionally navigating it.",
			Parameters: schema(map[string]any{"url": str("optional URL to load in the new tab")})},
		{Name: toolCloseTab, Description: "Close the active tab.", Parameters: schema(map[string]any{})},
		{Name: toolSwitchTab, Description: "Switch the active tab by index.",
			Parameters: schema(map[string]any{"index": intP("tab index")}, "index")},
		{Name: toolExecuteJavaScript, Description: "Evaluate JavaScript in the page and return a JSON-serializable value.",
			Parameters: schema(map[string]any{"script": str("JavaScript expression")}, "script")},
		{Name: toolExtractPageContent, Description: "Return the page's normalized visible text.", Parameters: schema(map[string]any{})},
		{Name: toolReadFile, Description: "Read a file from the run's working directory.",
			Parameters: schema(map[string]any{"path": str("path relative to the run working directory")}, "path")},
		{Name: toolWriteFile, Description: "Write a file into the run's working directory; registers it with the store.",
			Parameters: schema(map[string]any{"path": str("relative path"), "content": str("file contents")}, "path", "content")},
		{Name: toolReplaceInFile, Description: "Replace the first occurrence of a string in a file.",
			Parameters: schema(map[string]any{"path": str("relative path"), "find": str("text to find"), "replace": str("replacement text")}, "path", "find", "replace")},
		{Name: toolWait, Description: "Wait for a condition before continuing.",
			Parameters: schema(map[string]any{
				"kind":    str("one of url_match, element_visible, element_hidden, delay"),
				"pattern": str("regex for url_match"),
				"index":   intP("element index for element_visible/element_hidden"),
				"delay_ms": intP("milliseconds for delay"),
			}, "kind")},
		{Name: toolSaveNote, Description: "Persist a note that survives history compaction.",
			Parameters: schema(map[string]any{"key": str("note key"), "value": str("note value")}, "key", "value")},
		{Name: toolRecallNotes, Description: "Recall previously saved notes.", Parameters: schema(map[string]any{})},
		{Name: toolDone, Description: "Signal task completion with a summary. This is the only way to end the run.",
			Parameters: schema(map[string]any{"summary": str("first-person summary of what was accomplished")}, "summary")},
	}
}
