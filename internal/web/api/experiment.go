package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/gowvp/nora/internal/core/experiment"
	"github.com/grafov/m3u8"
	"github.com/ixugo/goddd/pkg/reason"
	"github.com/ixugo/goddd/pkg/web"
)

const staticExperiments = "/static/experiments"

// ExperimentAPI 为 http 提供业务方法
type ExperimentAPI struct {
	core   experiment.Core
	runner *experiment.Runner
}

func NewExperimentAPI(core experiment.Core, runner *experiment.Runner) ExperimentAPI {
	return ExperimentAPI{core: core, runner: runner}
}

func RegisterExperiment(g gin.IRouter, api ExperimentAPI, handler ...gin.HandlerFunc) {
	{
		group := g.Group("/experiments", handler...)
		group.GET("", web.WrapH(api.findExperiments))
		group.POST("", api.addExperiment)
		group.GET("/:id", web.WrapH(api.getExperiment))
		group.DELETE("/:id", web.WrapH(api.delExperiment))
		group.POST("/:id/process", web.WrapH(api.processExperiment))
		group.PATCH("/:id/objects", web.WrapH(api.editObjects))
		group.GET("/:id/episodes", web.WrapH(api.findEpisodes))
		group.GET("/:id/clips", web.WrapH(api.findClips))
		group.POST("/:id/clips/delete", web.WrapH(api.delClips))
		// HLS 播放列表，依次播放实验的全部片段
		group.GET("/:id/clips/index.m3u8", api.clipPlaylist)
	}
	{
		group := g.Group("", handler...)
		group.GET("/clips/:id/download", api.downloadClip)
		group.GET("/behaviors", web.WrapH(api.findBehaviors))
	}

	// 视频与片段文件，支持 Range 请求
	dir := api.core.StorageDir()
	slog.Info("注册实验静态文件服务", "path", staticExperiments, "dir", dir)
	g.Static(staticExperiments, dir)
}

func (a ExperimentAPI) findExperiments(c *gin.Context, in *experiment.FindExperimentInput) (any, error) {
	items, total, err := a.core.FindExperiments(c.Request.Context(), in)
	return gin.H{"items": items, "total": total}, err
}

func (a ExperimentAPI) getExperiment(c *gin.Context, _ *struct{}) (*experiment.Detail, error) {
	id, _ := strconv.ParseInt(c.Param("id"), 10, 64)
	return a.core.GetDetail(c.Request.Context(), id)
}

func (a ExperimentAPI) delExperiment(c *gin.Context, _ *struct{}) (*experiment.Experiment, error) {
	id, _ := strconv.ParseInt(c.Param("id"), 10, 64)
	return a.core.DelExperiment(c.Request.Context(), id)
}

type jobOutput struct {
	Experiment *experiment.Experiment `json:"experiment,omitempty"`
	JobID      string                 `json:"job_id"`
}

// addExperiment 上传视频创建实验并提交分析任务
// multipart 字段: video(必填) detections roi_file rois(JSON 文本) 以及 AddExperimentInput 的表单字段
func (a ExperimentAPI) addExperiment(c *gin.Context) {
	ctx := c.Request.Context()

	var in experiment.AddExperimentInput
	if err := c.ShouldBind(&in); err != nil {
		web.Fail(c, reason.ErrBadRequest.Withf("%s", err.Error()))
		return
	}
	if v := c.PostForm("rois"); v != "" {
		if err := json.Unmarshal([]byte(v), &in.Provided); err != nil {
			web.Fail(c, reason.ErrBadRequest.Withf("rois err[%s]", err.Error()))
			return
		}
	}

	fh, err := c.FormFile("video")
	if err != nil {
		web.Fail(c, reason.ErrBadRequest.Withf("video is required"))
		return
	}
	f, err := fh.Open()
	if err != nil {
		web.Fail(c, reason.ErrBadRequest.Withf("open video err[%s]", err.Error()))
		return
	}
	defer f.Close()

	exp, err := a.core.AddExperiment(ctx, &in, fh.Filename, f)
	if err != nil {
		web.Fail(c, err)
		return
	}

	inputs := []struct {
		field string
		kind  experiment.InputKind
	}{
		{field: "roi_file", kind: experiment.InputROI},
		{field: "detections", kind: experiment.InputDetection},
	}
	for _, input := range inputs {
		fh, err := c.FormFile(input.field)
		if err != nil {
			continue
		}
		if exp, err = saveInput(c, a.core, exp.ID, input.kind, fh); err != nil {
			web.Fail(c, err)
			return
		}
	}

	jobID, err := a.runner.Enqueue(ctx, exp.ID)
	if err != nil {
		web.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, jobOutput{Experiment: exp, JobID: jobID})
}

func saveInput(c *gin.Context, core experiment.Core, id int64, kind experiment.InputKind, fh *multipart.FileHeader) (*experiment.Experiment, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, reason.ErrBadRequest.Withf("open %s err[%s]", fh.Filename, err.Error())
	}
	defer f.Close()
	return core.SaveInput(c.Request.Context(), id, kind, fh.Filename, f)
}

// processExperiment 重新提交分析任务，旧结果在分析完成后被替换
func (a ExperimentAPI) processExperiment(c *gin.Context, _ *struct{}) (jobOutput, error) {
	id, _ := strconv.ParseInt(c.Param("id"), 10, 64)
	jobID, err := a.runner.Enqueue(c.Request.Context(), id)
	return jobOutput{JobID: jobID}, err
}

func (a ExperimentAPI) editObjects(c *gin.Context, in *experiment.EditObjectsInput) (any, error) {
	id, _ := strconv.ParseInt(c.Param("id"), 10, 64)
	items, err := a.core.EditObjects(c.Request.Context(), id, in)
	return gin.H{"items": items}, err
}

func (a ExperimentAPI) findEpisodes(c *gin.Context, _ *struct{}) (any, error) {
	id, _ := strconv.ParseInt(c.Param("id"), 10, 64)
	items, err := a.core.FindEpisodes(c.Request.Context(), id)
	return gin.H{"items": items}, err
}

func (a ExperimentAPI) findClips(c *gin.Context, _ *struct{}) (any, error) {
	id, _ := strconv.ParseInt(c.Param("id"), 10, 64)
	items, err := a.core.FindClips(c.Request.Context(), id)
	if err != nil {
		return nil, err
	}
	for _, item := range items {
		item.Path = a.core.URL(item.Path)
	}
	return gin.H{"items": items}, nil
}

func (a ExperimentAPI) delClips(c *gin.Context, in *experiment.DelClipsInput) (any, error) {
	id, _ := strconv.ParseInt(c.Param("id"), 10, 64)
	items, err := a.core.DelClips(c.Request.Context(), id, in)
	return gin.H{"items": items}, err
}

func (a ExperimentAPI) findBehaviors(c *gin.Context, _ *struct{}) (any, error) {
	items, err := a.core.FindBehaviors(c.Request.Context())
	return gin.H{"items": items}, err
}

// downloadClip 下载片段文件
func (a ExperimentAPI) downloadClip(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": 1, "msg": "invalid clip id"})
		return
	}
	clip, err := a.core.GetClip(c.Request.Context(), id)
	if err != nil {
		web.Fail(c, err)
		return
	}
	if _, err := os.Stat(clip.Path); clip.Path == "" || os.IsNotExist(err) {
		c.JSON(http.StatusNotFound, gin.H{"code": 1, "msg": "clip file not found"})
		return
	}
	c.FileAttachment(clip.Path, filepath.Base(clip.Path))
}

// clipPlaylist 生成实验片段的 m3u8 播放列表
// 路径: /experiments/:id/clips/index.m3u8?token=xxx
func (a ExperimentAPI) clipPlaylist(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": 1, "msg": "invalid experiment id"})
		return
	}
	clips, err := a.core.FindClips(c.Request.Context(), id)
	if err != nil {
		web.Fail(c, err)
		return
	}

	content := generateM3U8(clips, a.core.URL, c.Query("token"))
	if content == "" {
		c.JSON(http.StatusNotFound, gin.H{"code": 1, "msg": "no clips found"})
		return
	}
	c.Header("Content-Type", "application/vnd.apple.mpegurl")
	c.Header("Cache-Control", "no-cache")
	c.String(http.StatusOK, content)
}

// generateM3U8 片段按起始帧顺序组成 VOD 列表，无有效片段时返回空
// 每个片段独立编码，时间戳从 0 开始，片段之间需要 EXT-X-DISCONTINUITY
func generateM3U8(clips []*experiment.Clip, toURL func(string) string, token string) string {
	valid := make([]*experiment.Clip, 0, len(clips))
	for _, clip := range clips {
		if clip.Valid && clip.Path != "" {
			valid = append(valid, clip)
		}
	}
	if len(valid) == 0 {
		return ""
	}

	pl, err := m3u8.NewMediaPlaylist(0, uint(len(valid)))
	if err != nil {
		return ""
	}
	pl.MediaType = m3u8.VOD

	for i, clip := range valid {
		uri := toURL(clip.Path)
		if token != "" {
			uri = fmt.Sprintf("%s?token=%s", uri, token)
		}
		if err := pl.Append(uri, clip.Duration, ""); err != nil {
			slog.Warn("append clip to playlist", "clip_id", clip.ID, "err", err)
			continue
		}
		if i > 0 {
			_ = pl.SetDiscontinuity()
		}
	}
	pl.Close()
	return pl.String()
}
