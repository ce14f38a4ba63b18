package gee

import "strings"

// node 是按路径段组织的路由树。
// 查找优先级：静态段 > :param > *catchAll，失败时回溯，所以 /healthz 不会被 /:id 吃掉。
type node struct {
	pattern  string // 只有路由终点才有值，例如 /api/v1/links/:id/destination-status
	static   map[string]*node
	param    *node
	catchAll *node
	name     string // :id -> id，*path -> path
}

func (n *node) insert(pattern string, parts []string) {
	cur := n
	for _, part := range parts {
		switch part[0] {
		case ':':
			if cur.param == nil {
				cur.param = &node{name: part[1:]}
			} else if cur.param.name != part[1:] {
				panic("gee: conflicting param names :" + cur.param.name + " and " + part + " in " + pattern)
			}
			cur = cur.param
		case '*':
			if cur.catchAll == nil {
				cur.catchAll = &node{name: part[1:]}
			}
			cur = cur.catchAll
		default:
			if cur.static == nil {
				cur.static = make(map[string]*node)
			}
			child, ok := cur.static[part]
			if !ok {
				child = &node{}
				cur.static[part] = child
			}
			cur = child
		}
	}
	if cur.pattern != "" && cur.pattern != pattern {
		panic("gee: route " + pattern + " conflicts with " + cur.pattern)
	}
	cur.pattern = pattern
}

// search 返回匹配的终点，并把参数写进 params。
func (n *node) search(parts []string, params map[string]string) *node {
	if len(parts) == 0 {
		if n.pattern != "" {
			return n
		}
		// /files/*path 也匹配 /files
		if n.catchAll != nil && n.catchAll.pattern != "" {
			params[n.catchAll.name] = ""
			return n.catchAll
		}
		return nil
	}

	part := parts[0]
	if child, ok := n.static[part]; ok {
		if found := child.search(parts[1:], params); found != nil {
			return found
		}
	}
	if n.param != nil {
		if found := n.param.search(parts[1:], params); found != nil {
			params[n.param.name] = part
			return found
		}
	}
	if n.catchAll != nil && n.catchAll.pattern != "" {
		params[n.catchAll.name] = strings.Join(parts, "/")
		return n.catchAll
	}
	return nil
}
