package config

import (
	"fmt"
	"reflect"
	"strings"
)

// ChangeType 变更类型
type ChangeType string

const (
	ChangeTypeAdded    ChangeType = "added"
	ChangeTypeModified ChangeType = "modified"
	ChangeTypeDeleted  ChangeType = "deleted"
)

// ConfigChange 单项配置变更
type ConfigChange struct {
	Path            string      `json:"path"` // 如 "promotion.min_sharpe"
	Type            ChangeType  `json:"type"`
	OldValue        interface{} `json:"old_value"`
	NewValue        interface{} `json:"new_value"`
	RequiresRestart bool        `json:"requires_restart"`
}

// ConfigDiff 配置差异
type ConfigDiff struct {
	Changes         []ConfigChange `json:"changes"`
	RequiresRestart bool           `json:"requires_restart"`
}

// hotReloadable 运行中可直接生效的配置段，其余变更需要重启
var hotReloadable = []string{
	"promotion",
	"log.level",
	"walkforward.workers",
	"walkforward.budget_seconds",
	"walkforward.sample_interval_ms",
}

// requiresRestart 判断配置路径是否需要重启
func requiresRestart(path string) bool {
	for _, p := range hotReloadable {
		if path == p || strings.HasPrefix(path, p+".") {
			return false
		}
	}
	return true
}

// DiffConfig 按 yaml 路径逐项对比两个配置
func DiffConfig(oldConfig, newConfig *Config) *ConfigDiff {
	diff := &ConfigDiff{}
	diff.compare(reflect.ValueOf(oldConfig), reflect.ValueOf(newConfig), "")
	for _, change := range diff.Changes {
		if change.RequiresRestart {
			diff.RequiresRestart = true
			break
		}
	}
	return diff
}

// HotChanges 可热更新的变更
func (d *ConfigDiff) HotChanges() []ConfigChange {
	var out []ConfigChange
	for _, c := range d.Changes {
		if !c.RequiresRestart {
			out = append(out, c)
		}
	}
	return out
}

func (d *ConfigDiff) compare(oldVal, newVal reflect.Value, path string) {
	for oldVal.Kind() == reflect.Ptr || oldVal.Kind() == reflect.Interface {
		if oldVal.IsNil() {
			oldVal = reflect.Value{}
			break
		}
		oldVal = oldVal.Elem()
	}
	for newVal.Kind() == reflect.Ptr || newVal.Kind() == reflect.Interface {
		if newVal.IsNil() {
			newVal = reflect.Value{}
			break
		}
		newVal = newVal.Elem()
	}

	switch {
	case !oldVal.IsValid() && !newVal.IsValid():
		return
	case !newVal.IsValid():
		d.add(path, ChangeTypeDeleted, oldVal.Interface(), nil)
		return
	case !oldVal.IsValid():
		d.add(path, ChangeTypeAdded, nil, newVal.Interface())
		return
	case oldVal.Type() != newVal.Type():
		d.add(path, ChangeTypeModified, oldVal.Interface(), newVal.Interface())
		return
	}

	switch oldVal.Kind() {
	case reflect.Struct:
		typ := oldVal.Type()
		for i := 0; i < typ.NumField(); i++ {
			name := strings.Split(typ.Field(i).Tag.Get("yaml"), ",")[0]
			if name == "" || name == "-" {
				continue
			}
			d.compare(oldVal.Field(i), newVal.Field(i), join(path, name))
		}
	case reflect.Map:
		for _, key := range oldVal.MapKeys() {
			d.compare(oldVal.MapIndex(key), newVal.MapIndex(key), join(path, fmt.Sprint(key.Interface())))
		}
		for _, key := range newVal.MapKeys() {
			if !oldVal.MapIndex(key).IsValid() {
				d.add(join(path, fmt.Sprint(key.Interface())), ChangeTypeAdded, nil, newVal.MapIndex(key).Interface())
			}
		}
	case reflect.Slice, reflect.Array:
		// 长度不同视为整体修改
		if oldVal.Len() != newVal.Len() {
			d.add(path, ChangeTypeModified, oldVal.Interface(), newVal.Interface())
			return
		}
		for i := 0; i < oldVal.Len(); i++ {
			d.compare(oldVal.Index(i), newVal.Index(i), fmt.Sprintf("%s[%d]", path, i))
		}
	default:
		if !reflect.DeepEqual(oldVal.Interface(), newVal.Interface()) {
			d.add(path, ChangeTypeModified, oldVal.Interface(), newVal.Interface())
		}
	}
}

func (d *ConfigDiff) add(path string, typ ChangeType, oldValue, newValue interface{}) {
	d.Changes = append(d.Changes, ConfigChange{
		Path:            path,
		Type:            typ,
		OldValue:        oldValue,
		NewValue:        newValue,
		RequiresRestart: requiresRestart(path),
	})
}

func join(base, name string) string {
	if base == "" {
		return name
	}
	return base + "." + name
}
