package agent

import "testing"

func TestParseResponse(t *testing.T) {
	tests := []struct {
		name        string
		response    string
		wantThought string
		wantAction  string
	}{
		{
			name:        "think and action",
			response:    "Think: The stove heats water.\n\nAction: activate stove",
			wantThought: "The stove heats water.",
			wantAction:  "activate stove",
		},
		{
			name:        "thinking label and trailing comment",
			response:    "Thinking: need the pot\nAction: pick up metal pot (to carry it)\n",
			wantThought: "need the pot",
			wantAction:  "pick up metal pot",
		},
		{
			name:        "case insensitive, first action line only",
			response:    "THINK: go\nACTION: go to kitchen\nthen look around",
			wantThought: "go",
			wantAction:  "go to kitchen",
		},
		{
			name:        "action stops at a following thought",
			response:    "Action: wait Thought: maybe more",
			wantThought: "",
			wantAction:  "wait",
		},
		{
			name:        "keyword fallback",
			response:    "I should heat it.\nActivate stove (now)\nmore text",
			wantThought: "",
			wantAction:  "Activate stove",
		},
		{
			name:        "last line fallback",
			response:    "hmm\n\nsomething odd\n  \n",
			wantThought: "",
			wantAction:  "something odd",
		},
		{
			name:       "empty",
			response:   "   ",
			wantAction: "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			thought, action := ParseResponse(tt.response)
			if thought != tt.wantThought {
				t.Errorf("thought = %q, want %q", thought, tt.wantThought)
			}
			if action != tt.wantAction {
				t.Errorf("action = %q, want %q", action, tt.wantAction)
			}
		})
	}
}
