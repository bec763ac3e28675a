// Package cvvideo 基于 OpenCV(gocv) 的视频后端，需要以 -tags gocv 编译
// 导入后注册为 "opencv" 后端
package cvvideo
