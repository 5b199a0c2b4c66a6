package types

// BatchMessage is the broker payload for one unit of delivery work: a
// fixed-size slice of a job's recipient list. Each message carries enough
// data to be processed independently of dispatch order. The broker delivers
// it at least once; the fold step deduplicates on BatchIndex.
//
// JSON tags use snake_case to match the broker's wire format.
type BatchMessage struct {
	JobID        string   `json:"job_id"`
	TemplateID   string   `json:"template_id"`
	RecipientIDs []string `json:"recipient_ids"`
	Subject      string   `json:"subject,omitempty"`
	BatchIndex   int      `json:"batch_index"`
	TotalBatches int      `json:"total_batches"`
}

// Validate checks the structural invariants of an inbound batch message.
// Signature verification happens before this; Validate only guards against
// a well-signed but malformed payload.
func (m BatchMessage) Validate() error {
	switch {
	case m.JobID == "":
		return NewAppError(ErrCodeValidationInvalidBatch, "batch message missing job_id", nil)
	case m.TemplateID == "":
		return NewAppError(ErrCodeValidationInvalidBatch, "batch message missing template_id", nil)
	case len(m.RecipientIDs) == 0:
		return NewAppError(ErrCodeValidationInvalidBatch, "batch message has no recipients", nil)
	case m.BatchIndex < 0 || m.BatchIndex >= m.TotalBatches:
		return NewAppError(ErrCodeValidationInvalidBatch, "batch index out of range", nil)
	}
	return nil
}

// RecipientOutcome is the result of one delivery attempt within a batch.
type RecipientOutcome struct {
	RecipientID string `json:"recipient_id"`
	Email       string `json:"email,omitempty"`
	Success     bool   `json:"success"`
	Error       string `json:"error,omitempty"`
}

// BatchResult aggregates a batch's per-recipient outcomes into the shape the
// fold step consumes.
type BatchResult struct {
	BatchIndex int      `json:"batch_index"`
	Sent       int      `json:"sent"`
	Failed     int      `json:"failed"`
	Errors     []string `json:"errors,omitempty"`
}

// CollectBatchResult reduces per-recipient outcomes to a BatchResult for the
// given batch index.
func CollectBatchResult(batchIndex int, outcomes []RecipientOutcome) BatchResult {
	res := BatchResult{BatchIndex: batchIndex}
	for _, o := range outcomes {
		if o.Success {
			res.Sent++
			continue
		}
		res.Failed++
		if o.Error != "" {
			res.Errors = append(res.Errors, o.Error)
		}
	}
	return res
}
