// Licensed to the LF AI & Data foundation under one
// or more contributor license agreements. See the NOTICE file
// distributed with this work for additional information
// regarding copyright ownership. The ASF licenses this file
// to you under the Apache License, Version 2.0 (the
// "License"); you may not use this file except in compliance
// with the License. You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package typeutil

import (
	"sync"
)

// ConcurrentSet 为基于 sync.Map 的并发安全集合，适合读多写少、元素频繁进出的场景，
// 例如 Connector 持有的活动连接。
type ConcurrentSet[T comparable] struct {
	inner sync.Map
}

func NewConcurrentSet[T comparable]() *ConcurrentSet[T] {
	return &ConcurrentSet[T]{}
}

// Insert 插入元素，元素已存在时返回 false。
func (set *ConcurrentSet[T]) Insert(element T) bool {
	_, exist := set.inner.LoadOrStore(element, struct{}{})
	return !exist
}

// Contain 判断一个或多个元素是否都存在于集合中。
func (set *ConcurrentSet[T]) Contain(elements ...T) bool {
	for i := range elements {
		if _, ok := set.inner.Load(elements[i]); !ok {
			return false
		}
	}
	return true
}

// Remove 从集合中移除元素，不存在的元素被忽略。
func (set *ConcurrentSet[T]) Remove(elements ...T) {
	for i := range elements {
		set.inner.Delete(elements[i])
	}
}

// Len 返回元素数量，遍历期间并发修改时结果为近似值。
func (set *ConcurrentSet[T]) Len() int {
	n := 0
	set.inner.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// Range 遍历集合，f 返回 false 时中断。
func (set *ConcurrentSet[T]) Range(f func(element T) bool) {
	set.inner.Range(func(key, _ any) bool {
		return f(key.(T))
	})
}
