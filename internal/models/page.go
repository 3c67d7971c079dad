package models

// RawPage 爬虫产出的原始页面
// 作为流水线的不可变输入
type RawPage struct {
	URL     string `json:"url"`     // 页面地址
	Title   string `json:"title"`   // 页面标题
	Content string `json:"content"` // 原始文本内容
}

// NormalizedPage 清洗后的页面
type NormalizedPage struct {
	URL     string // 页面地址
	Title   string // 页面标题
	Content string // 清洗后的文本
}

// Category 页面主题分类
type Category string

const (
	// CategoryEducation 教育类内容
	CategoryEducation Category = "education"
	// CategorySupport 帮助与支持
	CategorySupport Category = "support"
	// CategoryLegalDocument 法律文件（PDF、docs路径）
	CategoryLegalDocument Category = "legal_document"
	// CategoryPrivacyPolicy 隐私政策
	CategoryPrivacyPolicy Category = "privacy_policy"
	// CategoryAccountManagement 账户管理、登录
	CategoryAccountManagement Category = "account_management"
	// CategorySignup 注册申请
	CategorySignup Category = "signup"
	// CategoryProductInfo 产品信息（默认分类）
	CategoryProductInfo Category = "product_info"
)

// AllCategories 返回固定的分类集合
func AllCategories() []Category {
	return []Category{
		CategoryEducation,
		CategorySupport,
		CategoryLegalDocument,
		CategoryPrivacyPolicy,
		CategoryAccountManagement,
		CategorySignup,
		CategoryProductInfo,
	}
}

// Valid 判断分类是否属于固定集合
func (c Category) Valid() bool {
	for _, known := range AllCategories() {
		if c == known {
			return true
		}
	}
	return false
}

// FinancialFacts 从正文中抽取的结构化金融信息
// JSON字段名与中间文件格式保持一致
type FinancialFacts struct {
	MonetaryAmounts []string `json:"fees"`            // 金额，如 $1,000
	Percentages     []string `json:"percentages"`     // 百分比，如 2%
	PhoneNumbers    []string `json:"phone_numbers"`   // 电话号码
	Emails          []string `json:"emails"`          // 邮箱地址
	TopicTags       []string `json:"financial_terms"` // 主题标签，如 cash_back
}

// NewFinancialFacts 创建所有字段均为空切片的结果
func NewFinancialFacts() FinancialFacts {
	return FinancialFacts{
		MonetaryAmounts: []string{},
		Percentages:     []string{},
		PhoneNumbers:    []string{},
		Emails:          []string{},
		TopicTags:       []string{},
	}
}
