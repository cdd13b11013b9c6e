package storage

import (
	"context"
	"errors"
	"testing"
)

// TestWebDAVRemotePath 测试存储键到远端路径的映射
func TestWebDAVRemotePath(t *testing.T) {
	tests := []struct {
		name        string
		rootPath    string
		storagePath string
		want        string
	}{
		{
			name:        "empty root",
			rootPath:    "",
			storagePath: "library/1/test.png",
			want:        "/library/1/test.png",
		},
		{
			name:        "with root",
			rootPath:    "/latentvault",
			storagePath: "library/1/test.png",
			want:        "/latentvault/library/1/test.png",
		},
		{
			name:        "storage path with leading slash",
			rootPath:    "/latentvault",
			storagePath: "/thumbnails/a1b2c3d4e5f6.webp",
			want:        "/latentvault/thumbnails/a1b2c3d4e5f6.webp",
		},
		{
			name:        "bare file name",
			rootPath:    "/data",
			storagePath: "test.png",
			want:        "/data/test.png",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &WebDAVStorage{rootPath: tt.rootPath}
			if got := s.remotePath(tt.storagePath); got != tt.want {
				t.Errorf("remotePath() = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestWebDAVRequiresURL 缺 URL 直接拒绝，不去探活
func TestWebDAVRequiresURL(t *testing.T) {
	_, err := NewWebDAVStorage(WebDAVConfig{})
	if err == nil {
		t.Fatal("expected error for empty WebDAV URL, got nil")
	}
}

// TestWebDAVContextCancellation 已取消的上下文不触发任何远端调用
func TestWebDAVContextCancellation(t *testing.T) {
	s := &WebDAVStorage{
		client:   nil, // run 在已取消的 ctx 上提前返回，client 不会被碰到
		rootPath: "/data",
		baseURL:  "https://dav.example.com",
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	t.Run("SaveWithContext", func(t *testing.T) {
		if err := s.SaveWithContext(ctx, "library/1/test.png", nil); !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	})

	t.Run("GetWithContext", func(t *testing.T) {
		if _, err := s.GetWithContext(ctx, "library/1/test.png"); !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	})

	t.Run("DeleteWithContext", func(t *testing.T) {
		if err := s.DeleteWithContext(ctx, "library/1/test.png"); !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	})

	t.Run("Exists", func(t *testing.T) {
		if _, err := s.Exists(ctx, "library/1/test.png"); !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	})
}

// TestWebDAVHealthNilClient 未初始化的客户端健康检查直接通过，测试场景用
func TestWebDAVHealthNilClient(t *testing.T) {
	s := &WebDAVStorage{}
	if err := s.Health(context.Background()); err != nil {
		t.Errorf("Health() with nil client = %v, want nil", err)
	}
}

// TestWebDAVName 测试存储名称
func TestWebDAVName(t *testing.T) {
	if got := (&WebDAVStorage{}).Name(); got != "webdav" {
		t.Errorf("Name() = %v, want webdav", got)
	}

	s := &WebDAVStorage{baseURL: "https://dav.example.com", rootPath: "/latentvault"}
	if got := s.Name(); got != "webdav:https://dav.example.com/latentvault" {
		t.Errorf("Name() = %v", got)
	}
}

// TestIsCollectionExists 测试目录已存在错误的识别
func TestIsCollectionExists(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("Mkdir: 405 Method Not Allowed"), true},
		{errors.New("directory already exists"), true},
		{errors.New("409 Conflict"), true},
		{errors.New("connection refused"), false},
	}
	for _, c := range cases {
		if got := isCollectionExists(c.err); got != c.want {
			t.Errorf("isCollectionExists(%v) = %v, want %v", c.err, got, c.want)
		}
	}
}
