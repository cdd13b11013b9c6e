package analytics

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/telarin/latentvault/cache"
	"github.com/telarin/latentvault/database/repo/images"
)

// SnapshotRepository 统计计算所需的快照仓库接口
type SnapshotRepository interface {
	SnapshotForUser(userID uint) ([]images.AnalyticsRow, error)
}

// Service 图库统计服务。全量快照聚合的结果按用户缓存，
// 避免每次请求都扫一遍整个图库。
type Service struct {
	repo     SnapshotRepository
	cache    cache.Provider
	cacheTTL time.Duration
}

// NewService 创建统计服务。ttl 非正时默认缓存 5 分钟。
func NewService(repo SnapshotRepository, cacheProvider cache.Provider, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Service{
		repo:     repo,
		cache:    cacheProvider,
		cacheTTL: ttl,
	}
}

// InsightsResponse 图库统计响应
type InsightsResponse struct {
	TotalImages    int     `json:"total_images"`
	TotalFavorited int     `json:"total_favorited"`
	FavoriteRate   float64 `json:"favorite_rate"`

	ModelStats []ModelStat       `json:"model_stats"`
	Prompts    PromptInsights    `json:"prompts"`
	DeepDive   []ModelDeepDive   `json:"model_deep_dive"`
	Time       TimeInsights      `json:"time"`
	Parameters ParameterInsights `json:"parameters"`
	Loras      LoraInsights      `json:"loras"`
}

// ModelStat 按底模分组的收藏率
type ModelStat struct {
	Checkpoint   string  `json:"checkpoint"`
	Total        int     `json:"total"`
	Favorited    int     `json:"favorited"`
	FavoriteRate float64 `json:"favorite_rate"`
}

// PromptInsights 提示词统计
type PromptInsights struct {
	TopWords           []WordCount    `json:"top_words"`
	LengthDistribution []LengthBucket `json:"length_distribution"`
}

// WordCount 词频条目
type WordCount struct {
	Word  string `json:"word"`
	Count int    `json:"count"`
}

// LengthBucket 提示词长度分布的单个区间
type LengthBucket struct {
	Range string `json:"range"`
	Count int    `json:"count"`
}

// ModelDeepDive 单个底模的参数画像
type ModelDeepDive struct {
	Checkpoint   string         `json:"checkpoint"`
	Total        int            `json:"total"`
	AvgSteps     float64        `json:"avg_steps"`
	AvgCFG       float64        `json:"avg_cfg"`
	FavoriteRate float64        `json:"favorite_rate"`
	TopSamplers  []SamplerUsage `json:"top_samplers"`
}

// SamplerUsage 采样器使用次数
type SamplerUsage struct {
	Sampler string `json:"sampler"`
	Count   int    `json:"count"`
}

// TimeInsights 时间维度统计
type TimeInsights struct {
	Monthly  []MonthCount   `json:"monthly"`
	Weekdays []WeekdayCount `json:"weekdays"`
}

// MonthCount 单个自然月的生成数量
type MonthCount struct {
	Month string `json:"month"`
	Count int    `json:"count"`
}

// WeekdayCount 一周中某一天的生成数量
type WeekdayCount struct {
	Weekday string `json:"weekday"`
	Count   int    `json:"count"`
}

// ParameterInsights 生成参数统计
type ParameterInsights struct {
	Steps       []RateBucket  `json:"steps"`
	CFG         []RateBucket  `json:"cfg"`
	TopSamplers []SamplerStat `json:"top_samplers"`
}

// RateBucket 参数直方图的单个区间，带收藏率
type RateBucket struct {
	Range        string  `json:"range"`
	Count        int     `json:"count"`
	Favorited    int     `json:"favorited"`
	FavoriteRate float64 `json:"favorite_rate"`
}

// SamplerStat 采样器使用次数与收藏率
type SamplerStat struct {
	Sampler      string  `json:"sampler"`
	Count        int     `json:"count"`
	FavoriteRate float64 `json:"favorite_rate"`
}

// LoraInsights 辅助模型统计
type LoraInsights struct {
	TopLoras           []LoraUsage       `json:"top_loras"`
	CommonCombinations []LoraCombination `json:"common_combinations"`
}

// LoraUsage 单个辅助模型的使用次数
type LoraUsage struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// LoraCombination 辅助模型组合及出现次数，名称已排序
type LoraCombination struct {
	Loras []string `json:"loras"`
	Count int      `json:"count"`
}

// GetInsights 获取用户的图库统计，优先命中缓存
func (s *Service) GetInsights(ctx context.Context, userID uint) (*InsightsResponse, error) {
	cacheKey := cache.Insights.BuildID(userID)

	var cached InsightsResponse
	err := s.cache.Get(ctx, cacheKey, &cached)
	if err == nil {
		return &cached, nil
	} else if !cache.IsCacheMiss(err) {
		log.Printf("Cache error when loading insights for user %d: %v", userID, err)
	}

	rows, err := s.repo.SnapshotForUser(userID)
	if err != nil {
		return nil, fmt.Errorf("load analytics snapshot: %w", err)
	}

	response := buildInsights(rows)

	_ = s.cache.Set(ctx, cacheKey, response, s.cacheTTL)

	return response, nil
}

// RefreshCache 使指定用户的统计缓存失效
func (s *Service) RefreshCache(ctx context.Context, userID uint) error {
	return s.cache.Delete(ctx, cache.Insights.BuildID(userID))
}
