package agent

import (
	"strings"

	"github.com/jllopis/reasoningbank/pkg/memory"
)

const rule = "=================================================="

// outputFormatMarker is where the experience section is spliced into the
// system prompt.
const outputFormatMarker = rule + "\nOUTPUT FORMAT"

const baseSystemPrompt = `You are an intelligent agent operating in a virtual science laboratory environment. Your goal is to complete science experiment tasks by interacting with objects, using equipment, and applying scientific knowledge.

==================================================
ENVIRONMENT OVERVIEW
==================================================
This environment simulates a household with 10 interconnected locations containing various objects, equipment, and living things. Tasks cover topics like:
- Phase changes (boiling, melting, freezing)
- Temperature measurement
- Electrical circuits and conductivity
- Classification of living/non-living things
- Plant growth
- Chemistry (mixing substances)
- Biology (life stages, genetics)
- Physics (inclined planes, friction)

Locations:
- Kitchen       : This room is equipped with a fridge, stove, and sink, commonly used for thermodynamics experiments
- Bathroom      : A domestic area containing a sink and a toilet, often used for navigation or finding specific household items
- Workshop      : This location houses various electrical components, such as batteries and wires
- Art Studio    : This room contains paints and artistic materials, serving as the primary site for chemical mixing and color-creation tasks
- Greenhouse    : A specialized environment for biological experiments
- Outside       : This outdoor space includes natural elements like soil and ponds
- Living Room   : A furnished area with bookshelves and paintings, frequently used for classification tasks or locating declarative knowledge in books
- Bedroom       : A standard room within the house theme that contains furniture such as a bed and is used for navigation and object search
- Hallway       : This area serves as the central connecting hub that allows agents to move between different locations in the house
- Foundry       : An industrial-themed location that features a large forge and is used for complex material-based experiments

==================================================
AVAILABLE COMMANDS
==================================================
Navigation:
  - look around                    : Describe the current room
  - look at [object]               : Describe an object in detail
  - look in [object]               : Describe a container's contents
  - go to [location]               : Move to a new location
  - teleport to [location]         : Teleport to a specific location

Object Manipulation:
  - pick up [object]               : Move an object to the inventory
  - put down [object]              : Drop an inventory item
  - move [object] to [location]    : Move an object to a container
  - focus on [object]              : Signal intent on a task object

Container Operations:
  - open/close [container]         : Open/close a container
  - pour [liquid] into [container] : Pour a liquid into a container
  - dunk [object] into [liquid]    : Dunk a container into a liquid
  - mix [object]                   : Chemically mix a container

Equipment/Device Operations:
  - activate [device]              : Activate/turn on a device
  - deactivate [device]            : Deactivate/turn off a device
  - use [object] [on target]       : Use a device/item
  - connect [obj1] to [obj2]       : Connect electrical components
  - disconnect [object]            : Disconnect electrical components
  - read [object]                  : Read a note or book

Other Actions:
  - eat [object]                   : Eat a food item
  - flush [object]                 : Flush a toilet
  - wait                           : Wait for 10 time steps (for slow processes)
  - wait1                          : Wait for 1 time step (for fine control)
  - inventory                      : List agent's inventory
  - task                           : Describe current task

==================================================
OUTPUT FORMAT
==================================================
You MUST respond in EXACTLY this format:

Think: <your reasoning about the current situation and next step>

Action: <exact command from the list above>

IMPORTANT:
- Always include both "Think:" and "Action:" sections
- The action must be a valid command with exact object names
- You CAN carry multiple objects at once`

// SystemPrompt assembles the system prompt for one episode. With few-shot
// enabled, taskName selects a matching demonstration (all of them when no
// specific one exists). Retrieved memories are inserted ahead of the output
// format rules.
func SystemPrompt(useFewShot bool, taskName string, memories []memory.RetrievedMemory) string {
	prompt := baseSystemPrompt
	if useFewShot {
		intro := "The following examples show how to complete various science tasks:"
		examples := allExamples
		if taskName != "" {
			intro = "The following examples show how to complete similar tasks:"
			examples = ExamplesFor(taskName)
		}
		prompt += "\n\n" + rule + "\nEXAMPLE DEMONSTRATIONS\n" + rule + "\n" + intro + "\n\n" + examples
	}

	section := memory.FormatForPrompt(memories)
	if section == "" {
		return prompt
	}
	if idx := strings.Index(prompt, outputFormatMarker); idx >= 0 {
		return prompt[:idx] + section + "\n" + prompt[idx:]
	}
	return prompt + section
}

// Turn is one action and the observation it produced.
type Turn struct {
	Action      string
	Observation string
}

// UserPrompt renders the per-step prompt. The newest turn's observation is
// shown only as the current observation. The initial observation is shown
// while the whole history fits in historyLength turns.
func UserPrompt(goal string, history []Turn, current, initial string, historyLength int) string {
	var b strings.Builder
	section := func(title string) {
		b.WriteString(rule + "\n" + title + "\n" + rule + "\n")
	}

	section("YOUR CURRENT TASK")
	b.WriteString("Goal: " + goal + "\n\n")
	b.WriteString("Hints:\n")
	b.WriteString("  - Type 'inventory' to check what you're carrying\n")
	b.WriteString("  - Type 'look around' to observe your surroundings\n")
	b.WriteString("  - Use 'wait' command if a process needs time to complete\n")
	b.WriteString("  - Use 'teleport' command (if enabled) to quickly move to a specific location\n\n")

	section("RECENT HISTORY")
	recent := history
	includeInitial := true
	if len(history) > historyLength {
		recent = history[len(history)-historyLength:]
		includeInitial = false
	}
	if includeInitial && initial != "" {
		b.WriteString("Initial Observation:\n" + initial + "\n\n")
	}
	for i, t := range recent {
		b.WriteString("Action: " + t.Action + "\n")
		if i < len(recent)-1 {
			b.WriteString("Observation: " + t.Observation + "\n")
		}
		b.WriteString("\n")
	}

	section("CURRENT OBSERVATION")
	b.WriteString(current + "\n\n")

	section("YOUR TURN")
	b.WriteString("Based on the task goal and current observation, decide your next action.\n")
	b.WriteString("Remember to use the exact format: Think: ... Action: ...")
	return b.String()
}
