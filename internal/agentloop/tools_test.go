package agentloop

import "testing"

func TestToolSchemas_CoversEveryDispatchedTool(t *testing.T) {
	dispatched := []string{
		toolNavigate, toolClick, toolType, toolSelectDropdownOption, toolGetDropdownOptions,
		toolScroll, toolSendKeys, toolGoBack, toolReload, toolNewTab, toolCloseTab, toolSwitchTab,
		toolExecuteJavaScript, toolExtractPageContent, toolReadFile, toolWriteFile, toolReplaceInFile,
		toolWait, toolSaveNote, toolRecallNotes, toolDone,
	}

	schemas := toolSchemas()
	byName := make(map[string]bool, len(schemas))
	for _, s := range schemas {
		byName[s.Name] = true
		if s.Parameters == nil {
			t.Errorf("tool %q has nil parameters schema", s.Name)
		}
		if s.Description == "" {
			t.Errorf("tool %q has no description", s.Name)
		}
	}

	for _, name := range dispatched {
		if !byName[name] {
			t.Errorf("dispatched tool %q has no schema entry", name)
		}
	}
	if len(schemas) != len(dispatched) {
		t.Errorf("schema count %d does not match dispatched tool count %d", len(schemas), len(dispatched))
	}
}

func TestToolSchemas_RequiredParamsAreDeclaredInProperties(t *testing.T) {
	for _, s := range toolSchemas() {
		props, _ := s.Parameters["properties"].(map[string]any)
		required, _ := s.Parameters["required"].([]string)
		for _, r := range required {
			if _, ok := props[r]; !ok {
				t.Errorf("tool %q requires %q but does not declare it in properties", s.Name, r)
			}
		}
	}
}
