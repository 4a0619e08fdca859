package vault

// Outcome of processing one encrypted file
type Outcome int

const (
	Decrypted Outcome = iota
	Skipped
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Decrypted:
		return "decrypted"
	case Skipped:
		return "skipped"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// Reason a file was skipped or failed
type Reason string

const (
	ReasonMissingSidecar Reason = "missing_sidecar"
	ReasonAuthOrIO       Reason = "auth_or_io_failure"
	ReasonTargetExists   Reason = "target_exists"
	ReasonNotRegular     Reason = "not_regular"
	ReasonWriteFailed    Reason = "write_failed"
)

// FileResult is the result of processing one encrypted file
type FileResult struct {
	Source   string // Ciphertext name, relative to the vault directory
	Output   string // Plaintext name, set when decrypted
	Outcome  Outcome
	Reason   Reason
	Err      error
	Size     int64    // Plaintext bytes
	Residual []string // Sources that could not be erased
}

// ResidualArtifact is an encrypted source that survived decryption
type ResidualArtifact struct {
	Path string
	Err  error
}

// Report aggregates the results of a decrypt run
type Report struct {
	Results  []FileResult
	Residual []ResidualArtifact
	Bytes    int64
}

func (r *Report) add(res FileResult, residual []ResidualArtifact) {
	r.Results = append(r.Results, res)
	r.Residual = append(r.Residual, residual...)
	if res.Outcome == Decrypted {
		r.Bytes += res.Size
	}
}

// Decrypted returns the plaintext names written or found in place
func (r *Report) Decrypted() []string {
	return r.outputs(Decrypted)
}

// Skipped returns results for files left encrypted
func (r *Report) Skipped() []FileResult {
	return r.filter(Skipped)
}

// Failed returns results for files that decrypted but could not be written
func (r *Report) Failed() []FileResult {
	return r.filter(Failed)
}

// Empty reports whether no encrypted file was found
func (r *Report) Empty() bool {
	return len(r.Results) == 0
}

func (r *Report) outputs(o Outcome) []string {
	var names []string
	for _, res := range r.Results {
		if res.Outcome == o {
			names = append(names, res.Output)
		}
	}
	return names
}

func (r *Report) filter(o Outcome) []FileResult {
	var out []FileResult
	for _, res := range r.Results {
		if res.Outcome == o {
			out = append(out, res)
		}
	}
	return out
}
