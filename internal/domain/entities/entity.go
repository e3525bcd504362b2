package entities

import "time"

// Entity is a DynamicEntity instance: an (entity_type, uuid)-keyed
// row whose shape is governed by an EntityDefinition.
// field_data holds every non-system column value, keyed by field name.
type Entity struct {
	UUID        string
	EntityType  string
	EntityKey   string
	Path        string
	ParentUUID  string
	FieldData   map[string]interface{}
	Published   bool
	Version     int
	CreatedAt   time.Time
	UpdatedAt   time.Time
	CreatedBy   string
	UpdatedBy   string
}

// ChildPath derives a child's virtual path from its parent:
// path(child) = path(parent)=="/" ? "/"+entity_key(parent) :
// path(parent)+"/"+entity_key(parent).
func ChildPath(parentPath, parentEntityKey string) string {
	if parentPath == "/" {
		return "/" + parentEntityKey
	}
	return parentPath + "/" + parentEntityKey
}
