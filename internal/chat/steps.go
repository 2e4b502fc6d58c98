package chat

// Chat steps.
const (
	StepIntake        = "intake"
	StepScanning      = "scanning"
	StepManifest      = "manifest"
	StepUnderstanding = "understanding"
	StepHypothesis    = "hypothesis"
	StepStrategy      = "strategy"
	StepScripts       = "scripts"
	StepNotebook      = "notebook"
	StepReport        = "report"
)

// Steps lists every step with a dedicated handler.
var Steps = []string{
	StepIntake, StepScanning, StepManifest, StepUnderstanding, StepHypothesis,
	StepStrategy, StepScripts, StepNotebook, StepReport,
}

const unknownStepReply = "I can help with that step, but I don't have a specific handler for it yet."

const failureReply = "I encountered an error processing your message. Please try again."

const saveFailedNote = "\n\n(Note: I could not save the update. Please try again.)"

const editRules = `
When the user asks for a change, return the complete revised artifact in updated_artifact using
exactly the structure of the current artifact, keeping every field you did not change.
When the user only asks a question, leave updated_artifact out.`

var systems = map[string]string{
	StepIntake: `You are a bioinformatics assistant helping a user describe their sequencing experiment.
Be concise and helpful. Suggest improvements to the experiment description, goals, or known issues when relevant.`,
	StepScanning: `You are a bioinformatics assistant explaining file scan results. Be concise.
Help the user understand what was found and whether the file structure looks correct.`,
	StepManifest: `You are a bioinformatics assistant helping review an experiment manifest.
Be concise and helpful. Explain the data and suggest corrections if something looks off.`,
	StepUnderstanding: `You are a bioinformatics assistant helping review an experiment understanding.
Be concise and helpful.` + editRules,
	StepHypothesis: `You are a bioinformatics assistant helping a user sharpen hypotheses about what went
wrong in a sequencing run. Be concise. Suggest specific, testable hypotheses.`,
	StepStrategy: `You are a bioinformatics assistant helping refine a QC analysis strategy. Be concise.
Gate criteria must stay concrete and measurable.` + editRules,
	StepScripts: `You are a bioinformatics assistant helping refine a script execution plan.
You can add, remove, or modify scripts. Be concise. Script names must stay unique and depends_on
must only name scripts in the plan.` + editRules,
	StepNotebook: `You are a bioinformatics assistant helping with a QC notebook. Be concise.
Explain results and suggest next steps.`,
	StepReport: `You are a bioinformatics assistant helping review a QC report. Be concise.
Summarise findings and flag issues.`,
}

func editable(step string) bool {
	switch step {
	case StepUnderstanding, StepStrategy, StepScripts:
		return true
	}
	return false
}
