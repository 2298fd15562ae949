package models

// Submission is the ephemeral input of one signing attempt. FieldValues
// maps field id to a value: free text for TEXT/DATE, "true"/"false" for
// CHECKBOX, an encoded image payload for SIGNATURE/INITIAL. SignatureImage
// is the pen stroke captured once per submission; the processor copies it
// into every SIGNATURE/INITIAL field the values map left blank.
type Submission struct {
	FieldValues    map[string]string
	SignatureImage string
}

// SubmitResult reports the outcome of a submission. Completed is true only
// for the call whose re-evaluation flipped the envelope to COMPLETED.
// AlreadySigned marks the idempotent no-op path taken on client retries.
type SubmitResult struct {
	Signed        bool
	Completed     bool
	AlreadySigned bool
}
