package tagging

import (
	"regexp"
	"strings"

	"github.com/telarin/latentvault/database/models"
)

// 标签类别
const (
	CategoryClothing = "clothing"
	CategorySetting  = "setting"
	CategoryPose     = "pose"
	CategoryMood     = "mood"
	CategoryRating   = "rating"
)

// 内容分级，按严重程度升序
const (
	RatingSafe       = "safe"
	RatingSuggestive = "suggestive"
	RatingExplicit   = "explicit"
)

// vocabulary 固定词表。全部单词词条，按词边界匹配；
// 类别和词条的顺序决定输出顺序。
var vocabulary = []struct {
	category string
	words    []string
}{
	{CategoryClothing, []string{
		"dress", "skirt", "uniform", "suit", "armor", "kimono", "cloak",
		"hoodie", "jacket", "shirt", "swimsuit", "bikini", "lingerie",
		"topless", "nude",
	}},
	{CategorySetting, []string{
		"indoor", "indoors", "outdoor", "outdoors", "forest", "beach",
		"city", "street", "mountain", "desert", "space", "underwater",
		"castle", "night", "sunset", "rain", "snow",
	}},
	{CategoryPose, []string{
		"standing", "sitting", "lying", "kneeling", "crouching",
		"running", "walking", "jumping", "dancing", "flying",
	}},
	{CategoryMood, []string{
		"happy", "sad", "serious", "angry", "calm", "peaceful",
		"dramatic", "mysterious", "playful", "melancholic",
	}},
}

// ratingRank 分级严重程度
var ratingRank = map[string]int{
	RatingSafe:       0,
	RatingSuggestive: 1,
	RatingExplicit:   2,
}

// clothingImpliedRating 服装词条隐含的最低分级
var clothingImpliedRating = map[string]string{
	"swimsuit": RatingSuggestive,
	"bikini":   RatingSuggestive,
	"lingerie": RatingSuggestive,
	"topless":  RatingExplicit,
	"nude":     RatingExplicit,
}

var wordBoundary = regexp.MustCompile(`\W+`)

// Match 在描述文本里按词边界匹配固定词表，产出标签集合。
// 输出恰好一个 rating 标签：描述里显式出现的分级最优先，
// 其次取已匹配服装词条隐含的最严分级，否则落到 safe。
func Match(description string) []models.Tag {
	seen := tokenSet(description)

	var tags []models.Tag
	var matchedClothing []string

	for _, group := range vocabulary {
		for _, word := range group.words {
			if !seen[word] {
				continue
			}
			tags = append(tags, models.Tag{Name: word, Category: group.category})
			if group.category == CategoryClothing {
				matchedClothing = append(matchedClothing, word)
			}
		}
	}

	tags = append(tags, models.Tag{
		Name:     resolveRating(seen, matchedClothing),
		Category: CategoryRating,
	})
	return tags
}

// resolveRating 三级回退：显式 > 服装隐含 > safe
func resolveRating(seen map[string]bool, matchedClothing []string) string {
	explicit := ""
	for rating := range ratingRank {
		if seen[rating] && (explicit == "" || ratingRank[rating] > ratingRank[explicit]) {
			explicit = rating
		}
	}
	if explicit != "" {
		return explicit
	}

	implied := ""
	for _, word := range matchedClothing {
		r, ok := clothingImpliedRating[word]
		if !ok {
			continue
		}
		if implied == "" || ratingRank[r] > ratingRank[implied] {
			implied = r
		}
	}
	if implied != "" {
		return implied
	}
	return RatingSafe
}

func tokenSet(description string) map[string]bool {
	seen := make(map[string]bool)
	for _, tok := range wordBoundary.Split(strings.ToLower(description), -1) {
		if tok != "" {
			seen[tok] = true
		}
	}
	return seen
}
