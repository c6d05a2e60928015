package generator

var themes = []string{
	"テクノロジー", "ビジネス", "ライフスタイル", "エンターテイメント", "教育",
	"健康・美容", "旅行", "料理", "スポーツ", "アート・デザイン",
	"音楽", "読書", "投資・金融", "子育て", "自己啓発",
	"プログラミング", "AI・機械学習", "起業", "マーケティング", "心理学",
	"副業", "AI副業", "ママ", "パパ", "在宅",
	"在宅副業", "AI活用副業", "ママ向け副業", "パパ向け副業",
}

// Themes returns the catalogue of suggested article themes.
func Themes() []string {
	out := make([]string, len(themes))
	copy(out, themes)
	return out
}
