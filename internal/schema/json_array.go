package schema

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// JSONArray 以 JSON 文本形式存储的字符串列表（保持顺序）
type JSONArray []string

// Value 实现 driver.Valuer 接口
func (j JSONArray) Value() (driver.Value, error) {
	if j == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]string(j))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan 实现 sql.Scanner 接口
func (j *JSONArray) Scan(value interface{}) error {
	if value == nil {
		*j = make(JSONArray, 0)
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return fmt.Errorf("JSONArray 不支持的类型: %T", value)
	}

	if len(bytes) == 0 {
		*j = make(JSONArray, 0)
		return nil
	}
	return json.Unmarshal(bytes, j)
}
