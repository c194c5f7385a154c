// Package handlers adapts spec.md §6's HTTP API onto gin, grounded on
// the teacher's internal/http/handlers.JobHandler shape (thin wrapper
// over a service, uuid.Parse path/query params, response helpers) but
// serving the four routes this spec actually names instead of the
// teacher's REST job resource.
package handlers

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yungbote/pipeline-orchestrator/internal/config"
	"github.com/yungbote/pipeline-orchestrator/internal/data/repos/jobs"
	"github.com/yungbote/pipeline-orchestrator/internal/domain"
	"github.com/yungbote/pipeline-orchestrator/internal/http/response"
	"github.com/yungbote/pipeline-orchestrator/internal/plan"
	"github.com/yungbote/pipeline-orchestrator/internal/platform/blobstore"
	"github.com/yungbote/pipeline-orchestrator/internal/platform/dbctx"
	"github.com/yungbote/pipeline-orchestrator/internal/platform/logger"
	"github.com/yungbote/pipeline-orchestrator/internal/runner"
	"github.com/yungbote/pipeline-orchestrator/internal/stage"
	"github.com/yungbote/pipeline-orchestrator/internal/submission"
)

type JobHandler struct {
	submit *submission.Service
	repo   jobs.JobRepo
	store  blobstore.Store
	runner runner.Runner
	env    config.Environment
	log    *logger.Logger
}

func NewJobHandler(submit *submission.Service, repo jobs.JobRepo, store blobstore.Store, rn runner.Runner, env config.Environment, log *logger.Logger) *JobHandler {
	return &JobHandler{submit: submit, repo: repo, store: store, runner: rn, env: env, log: log.With("handler", "job")}
}

// ScheduleJob is POST /schedule_job.
func (h *JobHandler) ScheduleJob(c *gin.Context) {
	form, err := decodeScheduleForm(c)
	if err != nil {
		response.RespondValidationError(c, h.env, err)
		return
	}

	job, err := h.submit.Schedule(c.Request.Context(), form)
	if err != nil {
		response.RespondValidationError(c, h.env, err)
		return
	}

	response.RespondOK(c, gin.H{"job_id": job.ID.String()})
}

// CheckStatus is GET /check_status?job_id=.
func (h *JobHandler) CheckStatus(c *gin.Context) {
	job, ok := h.lookupJob(c)
	if !ok {
		return
	}

	body := gin.H{
		"status":   job.Status,
		"progress": []int{job.Progress, job.Total},
	}
	if job.Logs != "" {
		body["logs"] = job.Logs
	} else {
		body["logs"] = nil
	}
	response.RespondOK(c, body)
}

// GetDownloadURL is GET /get_download_url?job_id=.
func (h *JobHandler) GetDownloadURL(c *gin.Context) {
	job, ok := h.lookupJob(c)
	if !ok {
		return
	}
	if job.Status != domain.JobStatusSucceeded {
		response.RespondValidationError(c, h.env, errJobNotSucceeded)
		return
	}

	key := job.ID.String() + "/data.zip"
	if err := h.store.MakePublic(c.Request.Context(), key); err != nil {
		response.RespondInternalError(c, h.env, err)
		return
	}
	response.RespondOK(c, gin.H{"download_url": h.store.PublicURL(key)})
}

// CancelJob is GET /cancel_job?job_id=.
func (h *JobHandler) CancelJob(c *gin.Context) {
	job, ok := h.lookupJob(c)
	if !ok {
		return
	}

	dbc := dbctx.Context{Ctx: c.Request.Context()}
	changed, err := h.repo.UpdateFieldsUnlessTerminal(dbc, job.ID, map[string]interface{}{
		"status": domain.JobStatusCancelled,
	})
	if err != nil {
		response.RespondInternalError(c, h.env, err)
		return
	}
	if changed {
		job.Status = domain.JobStatusCancelled
	}

	h.revokeCurrentTask(c, job)

	response.RespondOK(c, gin.H{
		"status":   job.Status,
		"progress": []int{job.Progress, job.Total},
	})
}

// revokeCurrentTask implements spec.md §4.9's revoke semantic: kill the
// deterministically-named container for the job's most recent task.
func (h *JobHandler) revokeCurrentTask(c *gin.Context, job *domain.Job) {
	if job.CurrentStep == nil {
		return
	}
	taskIDs, err := job.TaskIDList()
	if err != nil || len(taskIDs) == 0 {
		return
	}
	name := runner.ContainerName(stage.Name(*job.CurrentStep), taskIDs[len(taskIDs)-1])
	if err := h.runner.Kill(c.Request.Context(), name); err != nil {
		h.log.Warn("cancel: failed to kill container", "job_id", job.ID, "container", name, "error", err)
	}
}

func (h *JobHandler) lookupJob(c *gin.Context) (*domain.Job, bool) {
	id, err := uuid.Parse(c.Query("job_id"))
	if err != nil {
		response.RespondValidationError(c, h.env, err)
		return nil, false
	}
	job, err := h.repo.GetByID(dbctx.Context{Ctx: c.Request.Context()}, id)
	if err != nil {
		response.RespondInternalError(c, h.env, err)
		return nil, false
	}
	if job == nil {
		response.RespondNotFound(c, h.env, errJobNotFound)
		return nil, false
	}
	return job, true
}

var errJobNotFound = &jobError{"job not found"}
var errJobNotSucceeded = &jobError{"job has not succeeded"}

type jobError struct{ msg string }

func (e *jobError) Error() string { return e.msg }

// decodeScheduleForm parses the multipart form into a submission.Form,
// the canonical input_meshes[]/style_images[] schema spec.md §4.5
// resolves the Open Question to.
func decodeScheduleForm(c *gin.Context) (submission.Form, error) {
	var form submission.Form

	meshes := c.Request.MultipartForm
	if meshes == nil {
		if err := c.Request.ParseMultipartForm(64 << 20); err != nil {
			return form, err
		}
	}

	form.InputMeshes = filesFor(c, "input_meshes[]")
	if len(form.InputMeshes) == 0 {
		form.InputMeshes = filesFor(c, "input_meshes")
	}
	form.StyleImages = filesFor(c, "style_images[]")
	if len(form.StyleImages) == 0 {
		form.StyleImages = filesFor(c, "style_images")
	}

	form.Payload = map[string]any{}
	for key, values := range c.Request.PostForm {
		if len(values) == 1 {
			form.Payload[key] = values[0]
		} else {
			form.Payload[key] = values
		}
	}

	var err error
	form.Plan, err = decodePlanSubmission(c)
	return form, err
}

func filesFor(c *gin.Context, field string) []submission.InputFile {
	form := c.Request.MultipartForm
	if form == nil {
		return nil
	}
	headers := form.File[field]
	out := make([]submission.InputFile, 0, len(headers))
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			continue
		}
		out = append(out, submission.InputFile{Name: fh.Filename, Data: f})
	}
	return out
}

func decodePlanSubmission(c *gin.Context) (plan.Submission, error) {
	var s plan.Submission
	s.DisableDisplacement = formBool(c, "disable_displacement")
	s.Disable3D = formBool(c, "disable_3d")
	s.EnableSemantics = formBool(c, "enable_semantics")
	s.EnableUVTextureUpscale = formBool(c, "enable_uv_texture_upscale")
	s.EnableTotalGrid = formBool(c, "enable_total_grid")

	form := c.Request.MultipartForm
	var styleImageCount int
	if form != nil {
		styleImageCount = len(form.File["style_images[]"]) + len(form.File["style_images"])
	}
	s.NumStyleImages = styleImageCount

	var err error
	s.StyleImagesWeights, err = formFloats(c, "style_images_weights[]", "style_images_weights")
	if err != nil {
		return s, err
	}
	s.Loras = formStrings(c, "loras[]", "loras")
	s.LorasWeights, err = formFloats(c, "loras_weights[]", "loras_weights")
	if err != nil {
		return s, err
	}

	s.NCameras = formInt(c, "n_cameras", 1)
	s.CameraYaws, err = formFloats(c, "camera_yaws[]", "camera_yaws")
	if err != nil {
		return s, err
	}
	s.CameraPitches, err = formFloats(c, "camera_pitches[]", "camera_pitches")
	if err != nil {
		return s, err
	}

	s.TotalRemeshMode = c.PostForm("total_remesh_mode")
	s.DepthAlgorithm = c.PostForm("depth_algorithm")
	return s, nil
}

func formBool(c *gin.Context, key string) bool {
	v, ok := c.GetPostForm(key)
	if !ok {
		return false
	}
	b, _ := strconv.ParseBool(v)
	return b
}

func formInt(c *gin.Context, key string, def int) int {
	v, ok := c.GetPostForm(key)
	if !ok {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

func formStrings(c *gin.Context, keys ...string) []string {
	for _, k := range keys {
		if vs, ok := c.Request.PostForm[k]; ok {
			return vs
		}
	}
	return nil
}

func formFloats(c *gin.Context, keys ...string) ([]float64, error) {
	var raw []string
	for _, k := range keys {
		if vs, ok := c.Request.PostForm[k]; ok {
			raw = vs
			break
		}
	}
	out := make([]float64, 0, len(raw))
	for _, v := range raw {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}
