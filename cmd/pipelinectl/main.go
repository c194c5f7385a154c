// cmd/pipelinectl is the operator-facing CLI client spec.md §6 names,
// built with github.com/urfave/cli/v2 (grounded on google-skia-buildbot's
// CLI tooling) and talking to cmd/server's four HTTP routes, mirroring
// original_source/cli/sd_cli's schedule/check-status/download/cancel
// subcommands and its --follow poll-every-5s loop.
package main

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/urfave/cli/v2"
)

const pollInterval = 5 * time.Second

func main() {
	app := &cli.App{
		Name:  "pipelinectl",
		Usage: "schedule and track generative pipeline jobs",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "backend-base",
				Value:   "http://localhost:8080",
				Usage:   "base URL of the pipeline-orchestrator HTTP server",
				EnvVars: []string{"PIPELINECTL_BACKEND_BASE"},
			},
		},
		Commands: []*cli.Command{
			scheduleCommand,
			checkStatusCommand,
			downloadCommand,
			cancelCommand,
		},
	}

	if err := app.Run(os.Args); err != nil {
		if _, ok := err.(*usageError); ok {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(2)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// usageError marks a caller mistake (bad flags, invalid combination) as
// distinct from an operational failure, per spec.md §6's CLI exit-code
// split: 2 for usage errors, 1 for everything else.
type usageError struct{ msg string }

func (e *usageError) Error() string { return e.msg }

func usageErrorf(format string, args ...any) error {
	return &usageError{msg: fmt.Sprintf(format, args...)}
}

var scheduleCommand = &cli.Command{
	Name:  "schedule",
	Usage: "schedule a new job",
	Flags: []cli.Flag{
		&cli.StringSliceFlag{Name: "input-mesh", Aliases: []string{"i"}, Required: true, Usage: "path to an input massing file (.obj/.fbx/.glb); repeatable"},
		&cli.StringSliceFlag{Name: "style-image", Aliases: []string{"s"}, Usage: "path to a style image; repeatable"},
		&cli.Float64SliceFlag{Name: "style-images-weights"},
		&cli.StringSliceFlag{Name: "lora", Aliases: []string{"l"}},
		&cli.Float64SliceFlag{Name: "loras-weights"},
		&cli.IntFlag{Name: "n-cameras", Value: 1},
		&cli.Float64SliceFlag{Name: "camera-yaws"},
		&cli.Float64SliceFlag{Name: "camera-pitches"},
		&cli.BoolFlag{Name: "disable-displacement"},
		&cli.BoolFlag{Name: "disable-3d"},
		&cli.BoolFlag{Name: "enable-semantics"},
		&cli.BoolFlag{Name: "enable-uv-texture-upscale"},
		&cli.BoolFlag{Name: "enable-total-grid"},
		&cli.StringFlag{Name: "total-remesh-mode", Value: "none"},
		&cli.StringFlag{Name: "depth-algorithm", Value: "Marigold"},
		&cli.BoolFlag{Name: "follow", Aliases: []string{"f"}},
		&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Usage: "download destination; implies --follow"},
	},
	Action: func(c *cli.Context) error {
		inputMeshes := c.StringSlice("input-mesh")
		if len(inputMeshes) == 0 {
			return usageErrorf("at least one --input-mesh is required")
		}

		fields := map[string]string{
			"disable_displacement":      strconv.FormatBool(c.Bool("disable-displacement")),
			"disable_3d":                strconv.FormatBool(c.Bool("disable-3d")),
			"enable_semantics":          strconv.FormatBool(c.Bool("enable-semantics")),
			"enable_uv_texture_upscale": strconv.FormatBool(c.Bool("enable-uv-texture-upscale")),
			"enable_total_grid":         strconv.FormatBool(c.Bool("enable-total-grid")),
			"total_remesh_mode":         c.String("total-remesh-mode"),
			"depth_algorithm":           c.String("depth-algorithm"),
			"n_cameras":                 strconv.Itoa(c.Int("n-cameras")),
		}
		multiFields := map[string][]string{
			"style_images_weights[]": floatsToStrings(c.Float64Slice("style-images-weights")),
			"loras[]":                c.StringSlice("lora"),
			"loras_weights[]":        floatsToStrings(c.Float64Slice("loras-weights")),
			"camera_yaws[]":          floatsToStrings(c.Float64Slice("camera-yaws")),
			"camera_pitches[]":       floatsToStrings(c.Float64Slice("camera-pitches")),
		}

		files := map[string][]string{
			"input_meshes[]":  inputMeshes,
			"style_images[]":  c.StringSlice("style-image"),
		}

		var result struct {
			JobID string `json:"job_id"`
		}
		if err := postMultipart(c.String("backend-base"), "/schedule_job", fields, multiFields, files, &result); err != nil {
			return err
		}
		fmt.Printf("Job ID: %s\n", result.JobID)

		follow := c.Bool("follow") || c.String("output") != ""
		if follow {
			if err := followStatus(c.String("backend-base"), result.JobID); err != nil {
				return err
			}
		}
		if out := c.String("output"); out != "" {
			return downloadJob(c.String("backend-base"), result.JobID, out)
		}
		return nil
	},
}

var checkStatusCommand = &cli.Command{
	Name:  "check-status",
	Usage: "check status of a job",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "job-id", Aliases: []string{"j"}, Required: true},
		&cli.BoolFlag{Name: "follow", Aliases: []string{"f"}, Usage: "wait until the job reaches a terminal status"},
	},
	Action: func(c *cli.Context) error {
		jobID := c.String("job-id")
		if !c.Bool("follow") {
			status, err := printStatus(c.String("backend-base"), jobID)
			if err != nil {
				return err
			}
			if status == "FAILED" {
				return fmt.Errorf("job failed")
			}
			return nil
		}
		return followStatus(c.String("backend-base"), jobID)
	},
}

var downloadCommand = &cli.Command{
	Name:  "download",
	Usage: "download the output of an already-finished job",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "job-id", Aliases: []string{"j"}, Required: true},
		&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Required: true},
	},
	Action: func(c *cli.Context) error {
		status, err := statusOf(c.String("backend-base"), c.String("job-id"))
		if err != nil {
			return err
		}
		switch status {
		case "FAILED":
			return usageErrorf("cannot download output of a failed job")
		case "SUCCEEDED":
		default:
			return usageErrorf("job is still pending, wait until it completes")
		}
		return downloadJob(c.String("backend-base"), c.String("job-id"), c.String("output"))
	},
}

var cancelCommand = &cli.Command{
	Name:  "cancel",
	Usage: "cancel a job",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "job-id", Aliases: []string{"j"}, Required: true},
	},
	Action: func(c *cli.Context) error {
		var result struct {
			Status   string `json:"status"`
			Progress [2]int `json:"progress"`
		}
		if err := getJSON(c.String("backend-base"), "/cancel_job", url.Values{"job_id": {c.String("job-id")}}, &result); err != nil {
			return err
		}
		fmt.Printf("Job ID: %s\nStatus: %s\nProgress: %d/%d\n", c.String("job-id"), result.Status, result.Progress[0], result.Progress[1])
		return nil
	},
}

// followStatus implements original_source's check-status --follow loop:
// poll every 5s, print progress, stop on a terminal status, and surface
// FAILED as a nonzero exit via a plain (non-usage) error.
func followStatus(base, jobID string) error {
	for {
		status, err := printStatus(base, jobID)
		if err != nil {
			return err
		}
		if status == "FAILED" {
			return fmt.Errorf("job failed")
		}
		if status == "SUCCEEDED" {
			return nil
		}
		time.Sleep(pollInterval)
	}
}

func printStatus(base, jobID string) (string, error) {
	var result struct {
		Status   string `json:"status"`
		Progress [2]int `json:"progress"`
		Logs     string `json:"logs"`
	}
	if err := getJSON(base, "/check_status", url.Values{"job_id": {jobID}}, &result); err != nil {
		return "", err
	}
	fmt.Printf("Job ID: %s\nStatus: %s\nProgress: %d/%d\n", jobID, result.Status, result.Progress[0], result.Progress[1])
	if result.Status == "FAILED" && result.Logs != "" {
		fmt.Println("Logs from failed stage:")
		fmt.Println(result.Logs)
	}
	return result.Status, nil
}

func statusOf(base, jobID string) (string, error) {
	var result struct {
		Status string `json:"status"`
	}
	if err := getJSON(base, "/check_status", url.Values{"job_id": {jobID}}, &result); err != nil {
		return "", err
	}
	return result.Status, nil
}

func downloadJob(base, jobID, output string) error {
	var result struct {
		DownloadURL string `json:"download_url"`
	}
	if err := getJSON(base, "/get_download_url", url.Values{"job_id": {jobID}}, &result); err != nil {
		return err
	}

	resp, err := http.Get(result.DownloadURL)
	if err != nil {
		return fmt.Errorf("download result archive: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download result archive: status %d", resp.StatusCode)
	}

	if strings.HasSuffix(output, ".zip") {
		f, err := os.Create(output)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(f, resp.Body)
		return err
	}

	tmp, err := os.CreateTemp("", "pipelinectl-*.zip")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		return err
	}
	tmp.Close()

	return unzipInto(tmp.Name(), output)
}

func getJSON(base, path string, query url.Values, out any) error {
	u, err := url.Parse(strings.TrimRight(base, "/") + path)
	if err != nil {
		return err
	}
	u.RawQuery = query.Encode()

	resp, err := http.Get(u.String())
	if err != nil {
		return fmt.Errorf("request %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("request %s: status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// postMultipart builds a multipart/form-data request with scalar fields,
// repeated-name array fields, and file fields from local paths, mirroring
// the teacher's and original_source's multipart file+field POST pattern.
func postMultipart(base, path string, fields map[string]string, multiFields map[string][]string, files map[string][]string, out any) error {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return err
		}
	}
	for k, values := range multiFields {
		for _, v := range values {
			if err := w.WriteField(k, v); err != nil {
				return err
			}
		}
	}
	for field, paths := range files {
		for _, p := range paths {
			if err := attachFile(w, field, p); err != nil {
				return err
			}
		}
	}
	if err := w.Close(); err != nil {
		return err
	}

	resp, err := http.Post(strings.TrimRight(base, "/")+path, w.FormDataContentType(), &buf)
	if err != nil {
		return fmt.Errorf("request %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("request %s: status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func attachFile(w *multipart.Writer, field, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return usageErrorf("file %s doesn't exist", path)
	}
	defer f.Close()

	part, err := w.CreateFormFile(field, filepath.Base(path))
	if err != nil {
		return err
	}
	_, err = io.Copy(part, f)
	return err
}

// unzipInto extracts a zip archive into dir, matching original_source's
// download_result's zipfile.ZipFile(...).extractall behavior.
func unzipInto(archivePath, dir string) error {
	zr, err := zip.OpenReader(archivePath)
	if err != nil {
		return fmt.Errorf("open result archive: %w", err)
	}
	defer zr.Close()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	for _, f := range zr.File {
		target := filepath.Join(dir, f.Name)
		if !strings.HasPrefix(target, filepath.Clean(dir)+string(os.PathSeparator)) {
			return fmt.Errorf("zip entry %q escapes output directory", f.Name)
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		if err := extractZipEntry(f, target); err != nil {
			return err
		}
	}
	return nil
}

func extractZipEntry(f *zip.File, target string) error {
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, f.Mode())
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, rc)
	return err
}

func floatsToStrings(fs []float64) []string {
	out := make([]string, len(fs))
	for i, f := range fs {
		out[i] = strconv.FormatFloat(f, 'f', -1, 64)
	}
	return out
}
