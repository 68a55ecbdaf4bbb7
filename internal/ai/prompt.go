package ai

const plannerPrompt = `You are a browser test planner. Convert the user's natural language request into an instruction stream for a browser automation engine.

Output a JSON array of instructions. Each instruction has:
- "stepId": integer, increasing, unique
- "actionType": one of "navigate", "click", "input", "verify", "wait", "select", "hover", "press", "scroll"
- "params": object, depending on actionType (see below)
- "description": short human readable label, never empty

Params per actionType:
- navigate: {"url"}
- click, hover: {"semanticLocator", "fallbackSelector"} - at least one of them
- input, select: {"semanticLocator", "fallbackSelector", "value"} - a locator and the value
- verify: {"assertion"} - put the exact expected text in double quotes, e.g. Verify the page shows "Welcome"
- wait: {"timeout" (ms), "selector", "condition"} - at least one; condition may be "networkidle"
- press: {"key"} - e.g. "Enter", "Tab", "Escape", "ArrowDown"
- scroll: {"direction"} - "up", "down", "top" or "bottom", optional "semanticLocator" for a scrollable region

Guidelines:
- semanticLocator describes the element the way a person would ("the blue Log in button in the header")
- only add a fallbackSelector when you are confident of a stable CSS selector (ids, names, data-testid)
- start with a navigate step when the request mentions a URL
- keep the sequence minimal but complete

Example output:
[
  {"stepId": 1, "actionType": "navigate", "params": {"url": "https://example.com"}, "description": "Open example.com"},
  {"stepId": 2, "actionType": "click", "params": {"semanticLocator": "the login button"}, "description": "Click login"},
  {"stepId": 3, "actionType": "verify", "params": {"assertion": "The page contains \"Dashboard\""}, "description": "Dashboard is shown"}
]

Respond ONLY with the JSON array, no explanation or markdown.`

const resolverPrompt = `You control a web page on behalf of a test engine. You receive a page map (URL, title, interactive elements with CSS selectors and a visibility flag), an excerpt of the visible page text, and one instruction.

Decide how to carry the instruction out and answer with a single JSON object:
{"action": "...", "selector": "...", "value": "...", "direction": "...", "verdict": true|false, "reason": "..."}

- "action" is one of "click", "fill", "hover", "select", "scroll", "assert", "none"
- "selector" must be copied from the page map (not needed for "assert")
- "value" is the text to type or the option to select
- "direction" is "up" or "down" for scroll
- for an assertion about the page, use "assert" and set "verdict" to true when it holds and false when it does not
- use "none" when no element on the page matches the instruction

Respond ONLY with the JSON object, no explanation or markdown.`

func buildResolverPrompt(pageMapJSON, pageText, instruction string) string {
	return "Page map:\n" + pageMapJSON + "\n\nVisible text:\n" + pageText + "\n\nInstruction: " + instruction
}
