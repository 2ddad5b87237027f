package pipeline

// Stage names one step of a sync run.
type Stage string

// Stages in execution order.
const (
	StageCheckAccess         Stage = "CheckAccess"
	StageEnsureWorkingDir    Stage = "EnsureWorkingDir"
	StageFetchCollectionInfo Stage = "FetchCollectionInfo"
	StageBuildIndex          Stage = "BuildIndex"
	StageEnrichCrawlInfo     Stage = "EnrichCrawlInfo"
	StageResolveTitles       Stage = "ResolveTitles"
	StageDeleteLoose         Stage = "DeleteLoose"
	StageVerifyChecksums1    Stage = "VerifyChecksums(1)"
	StageFetchMissing        Stage = "FetchMissing"
	StageVerifyChecksums2    Stage = "VerifyChecksums(2)"
	StageBuildPageIndex      Stage = "BuildPageIndex"
	StageAssembleContainer   Stage = "AssembleContainer"
	StageReport              Stage = "Report"
)

// step is one stage bound to its implementation. A gating step's error ends the run; any other
// step's error is logged and the run continues.
type step struct {
	stage  Stage
	gating bool
	run    func(*runState) error
}
