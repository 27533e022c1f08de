/*
包 persona 为每道题挑选专家面板。

Selector 请求模型给出两位不同领域的专家及其指令 prompt，解析响应中的 JSON，
并固定追加 "Text Analysis Expert" 作为第三位专家。响应不合格时按固定间隔
重试整次调用，次数用尽返回 types.ErrPanelUnavailable。
*/
package persona
