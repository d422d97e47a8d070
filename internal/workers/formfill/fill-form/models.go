package fillform

import (
	"github.com/Daily-Wins/dw-chromegpt/internal/batch"
	"github.com/Daily-Wins/dw-chromegpt/internal/models"
)

// Input is the batch request carried in the job variables. BatchID defaults to one derived
// from the job key so progress subscribers can follow the job.
type Input struct {
	batch.Request
}

type Output = models.BatchResult
